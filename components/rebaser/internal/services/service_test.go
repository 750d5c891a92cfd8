package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	httpout "github.com/weftworks/loom/components/rebaser/internal/adapters/http/out"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/approval"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/audit"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/changeset"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/workspace"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/funcrun"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/sandbox"
)

// fakeSnapshotStore is an in-memory SnapshotStore for service tests.
type fakeSnapshotStore struct {
	mu    sync.Mutex
	blobs map[cas.Hash][]byte
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{blobs: make(map[cas.Hash][]byte)}
}

func (f *fakeSnapshotStore) Put(_ context.Context, value []byte) (cas.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hash := cas.HashBytes(value)
	f.blobs[hash] = value

	return hash, nil
}

func (f *fakeSnapshotStore) Get(_ context.Context, hash cas.Hash) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.blobs[hash]

	return value, ok, nil
}

func (f *fakeSnapshotStore) Flush(context.Context) error {
	return nil
}

// testMocks bundles every collaborator of the UseCase.
type testMocks struct {
	ChangeSets *changeset.MockRepository
	Workspaces *workspace.MockRepository
	Approvals  *approval.MockRepository
	Audits     *audit.MockRepository
	Policy     *httpout.MockPolicyRepository
	Producer   *rabbitmq.MockProducerRepository
	Sandbox    *sandbox.MockClient
	FuncRuns   *funcrun.MockRepository
	Snapshots  *fakeSnapshotStore
}

func newTestUseCase(t *testing.T, ctrl *gomock.Controller) (*UseCase, *testMocks) {
	t.Helper()

	mocks := &testMocks{
		ChangeSets: changeset.NewMockRepository(ctrl),
		Workspaces: workspace.NewMockRepository(ctrl),
		Approvals:  approval.NewMockRepository(ctrl),
		Audits:     audit.NewMockRepository(ctrl),
		Policy:     httpout.NewMockPolicyRepository(ctrl),
		Producer:   rabbitmq.NewMockProducerRepository(ctrl),
		Sandbox:    sandbox.NewMockClient(ctrl),
		FuncRuns:   funcrun.NewMockRepository(ctrl),
		Snapshots:  newFakeSnapshotStore(),
	}

	uc := &UseCase{
		ChangeSetRepo:          mocks.ChangeSets,
		WorkspaceRepo:          mocks.Workspaces,
		ApprovalRepo:           mocks.Approvals,
		AuditRepo:              mocks.Audits,
		PolicyRepo:             mocks.Policy,
		Producer:               mocks.Producer,
		Snapshots:              mocks.Snapshots,
		Runner:                 sandbox.NewRunner(mocks.Sandbox, mocks.FuncRuns, 0),
		InsertConcurrencyLimit: 2,
	}

	return uc, mocks
}

// storeGraph serializes g into the fake store and returns its address.
func storeGraph(t *testing.T, store *fakeSnapshotStore, g *graph.Graph) string {
	t.Helper()

	address, err := g.Serialize(context.Background(), store)
	require.NoError(t, err)

	return address.String()
}

// newComponentNode adds a component under the component category.
func newComponentNode(t *testing.T, g *graph.Graph) graph.ID {
	t.Helper()

	category, err := g.EnsureCategory(graph.CategoryComponent)
	require.NoError(t, err)

	id := graph.NewID()
	require.NoError(t, g.AddNode(&graph.Node{ID: id, Weight: graph.ComponentWeight{ContentAddress: cas.HashBytes([]byte(id))}}))
	require.NoError(t, g.AddEdge(category, id, graph.EdgeWeight{Kind: graph.EdgeKindUse}))

	return id
}

// allowFuncRunBookkeeping wires permissive func-run persistence for
// dependent-value tests that care about execution, not records.
func allowFuncRunBookkeeping(mocks *testMocks) {
	mocks.FuncRuns.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, run *funcrun.FuncRun) (*funcrun.FuncRun, error) {
			return run, nil
		}).
		AnyTimes()

	mocks.FuncRuns.EXPECT().
		UpdateState(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, state any, result any) (*funcrun.FuncRun, error) {
			return &funcrun.FuncRun{ID: id}, nil
		}).
		AnyTimes()

	mocks.FuncRuns.EXPECT().
		AppendLog(gomock.Any(), gomock.Any()).
		Return(nil).
		AnyTimes()
}
