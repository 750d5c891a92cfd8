package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/weftworks/loom/components/executor/internal/adapters/postgres/changeset"
	"github.com/weftworks/loom/components/executor/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/components/executor/internal/adapters/redis"
	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/funcrun"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/mmodel"
	"github.com/weftworks/loom/pkg/sandbox"
)

// fakeActionRepo is a stateful in-memory action table so dispatcher
// passes see their own writes, which gomock return stubs cannot model.
type fakeActionRepo struct {
	mu      sync.Mutex
	actions map[string]*mmodel.Action

	dispatched []string
}

func newFakeActionRepo() *fakeActionRepo {
	return &fakeActionRepo{actions: make(map[string]*mmodel.Action)}
}

func (f *fakeActionRepo) Create(_ context.Context, a *mmodel.Action) (*mmodel.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a.State == "" {
		a.State = constant.ActionStateQueued
	}

	f.actions[a.ID] = a

	return a, nil
}

func (f *fakeActionRepo) Find(_ context.Context, id string) (*mmodel.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.actions[id]
	if !ok {
		return nil, pkg.ValidateBusinessError(constant.ErrActionNotFound, "action", id)
	}

	return a, nil
}

func (f *fakeActionRepo) FindAllByChangeSet(_ context.Context, workspaceID, changeSetID string) ([]*mmodel.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var actions []*mmodel.Action

	for _, a := range f.actions {
		if a.WorkspaceID == workspaceID && a.ChangeSetID == changeSetID {
			actions = append(actions, a)
		}
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i].ID < actions[j].ID })

	return actions, nil
}

func (f *fakeActionRepo) UpdateState(_ context.Context, id string, state constant.ActionState) (*mmodel.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.actions[id]
	if !ok {
		return nil, pkg.ValidateBusinessError(constant.ErrActionNotFound, "action", id)
	}

	if !a.State.CanTransitionTo(state) {
		return nil, pkg.ValidateBusinessError(constant.ErrInvalidActionTransition, "action", a.State, state)
	}

	a.State = state

	if state == constant.ActionStateDispatched {
		f.dispatched = append(f.dispatched, id)
	}

	return a, nil
}

func (f *fakeActionRepo) SetFuncRun(_ context.Context, id, funcRunID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a, ok := f.actions[id]; ok {
		a.FuncRunID = &funcRunID
	}

	return nil
}

func (f *fakeActionRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.actions, id)

	return nil
}

func (f *fakeActionRepo) RehomeQueued(_ context.Context, workspaceID, fromChangeSetID, toChangeSetID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var moved int64

	for _, a := range f.actions {
		if a.WorkspaceID == workspaceID && a.ChangeSetID == fromChangeSetID && a.State == constant.ActionStateQueued {
			a.ChangeSetID = toChangeSetID
			moved++
		}
	}

	return moved, nil
}

type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[cas.Hash][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[cas.Hash][]byte)}
}

func (f *fakeBlobStore) Put(_ context.Context, value []byte) (cas.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hash := cas.HashBytes(value)
	f.blobs[hash] = value

	return hash, nil
}

func (f *fakeBlobStore) Get(_ context.Context, hash cas.Hash) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.blobs[hash]

	return value, ok, nil
}

type executorFixture struct {
	uc          *UseCase
	actions     *fakeActionRepo
	store       *fakeBlobStore
	sandboxMock *sandbox.MockClient
	producer    *rabbitmq.MockProducerRepository
	locks       *redis.MockLockRepository
	prototypeID graph.ID
	changeSet   *mmodel.ChangeSet
}

func newExecutorFixture(t *testing.T, ctrl *gomock.Controller) *executorFixture {
	t.Helper()

	store := newFakeBlobStore()

	g := graph.New()

	funcID := graph.NewID()
	require.NoError(t, g.AddNode(&graph.Node{ID: funcID, Weight: graph.FuncWeight{
		Name:     "provision",
		FuncKind: constant.FuncKindAction,
		Handler:  "run",
	}}))

	prototypeID := graph.NewID()
	require.NoError(t, g.AddNode(&graph.Node{ID: prototypeID, Weight: graph.ActionPrototypeWeight{
		ActionKind: constant.ActionKindCreate,
	}}))
	require.NoError(t, g.AddEdge(g.RootID(), prototypeID, graph.EdgeWeight{Kind: graph.EdgeKindUse}))
	require.NoError(t, g.AddEdge(prototypeID, funcID, graph.EdgeWeight{Kind: graph.EdgeKindUse}))

	address, err := g.Serialize(context.Background(), store)
	require.NoError(t, err)

	cs := &mmodel.ChangeSet{
		ID:              "cs-1",
		WorkspaceID:     "ws-1",
		Status:          constant.ChangeSetStatusOpen,
		SnapshotAddress: address.String(),
	}

	actions := newFakeActionRepo()
	changeSets := changeset.NewMockRepository(ctrl)
	changeSets.EXPECT().Find(gomock.Any(), cs.ID).Return(cs, nil).AnyTimes()

	sandboxMock := sandbox.NewMockClient(ctrl)
	producer := rabbitmq.NewMockProducerRepository(ctrl)
	locks := redis.NewMockLockRepository(ctrl)

	funcRuns := funcrun.NewMockRepository(ctrl)
	funcRuns.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, run *funcrun.FuncRun) (*funcrun.FuncRun, error) {
			return run, nil
		}).
		AnyTimes()
	funcRuns.EXPECT().
		UpdateState(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, state any, result any) (*funcrun.FuncRun, error) {
			return &funcrun.FuncRun{ID: id}, nil
		}).
		AnyTimes()
	funcRuns.EXPECT().AppendLog(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	funcRuns.EXPECT().
		Find(gomock.Any(), gomock.Any()).
		Return(nil, pkg.ValidateBusinessError(constant.ErrFuncRunNotFound, "func run", "")).
		AnyTimes()

	uc := &UseCase{
		ActionRepo:    actions,
		ChangeSetRepo: changeSets,
		LockRepo:      locks,
		Producer:      producer,
		Snapshots:     store,
		Runner:        sandbox.NewRunner(sandboxMock, funcRuns, time.Second),
		LockTTL:       time.Minute,
	}

	return &executorFixture{
		uc:          uc,
		actions:     actions,
		store:       store,
		sandboxMock: sandboxMock,
		producer:    producer,
		locks:       locks,
		prototypeID: prototypeID,
		changeSet:   cs,
	}
}

func (f *executorFixture) allowLock() {
	f.locks.EXPECT().AcquireLock(gomock.Any(), "loom:dispatcher:ws-1", gomock.Any()).Return(true, nil).AnyTimes()
	f.locks.EXPECT().ReleaseLock(gomock.Any(), "loom:dispatcher:ws-1").Return(nil).AnyTimes()
}

func (f *executorFixture) addAction(t *testing.T, kind constant.ActionKind, dependsOn ...string) *mmodel.Action {
	t.Helper()

	a := &mmodel.Action{
		ID:                     string(graph.NewID()),
		WorkspaceID:            "ws-1",
		ChangeSetID:            "cs-1",
		OriginatingChangeSetID: "cs-1",
		ComponentID:            "component-1",
		PrototypeID:            string(f.prototypeID),
		Kind:                   kind,
		State:                  constant.ActionStateQueued,
		DependsOn:              dependsOn,
	}

	_, err := f.actions.Create(context.Background(), a)
	require.NoError(t, err)

	return a
}

func successResult() *sandbox.FunctionResult {
	return &sandbox.FunctionResult{Success: true, Payload: json.RawMessage(`{"status":"ok"}`)}
}

func failureResult() *sandbox.FunctionResult {
	return &sandbox.FunctionResult{Success: false, Kind: sandbox.FailureKindUserCode, Message: "provider rejected"}
}

func TestDispatchRespectsDependencies(t *testing.T) {
	// D2 depends on D1. D1 fails: D2 must stay queued. After the user
	// holds, resumes and D1 succeeds, D2 dispatches next.
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fixture := newExecutorFixture(t, ctrl)
	fixture.allowLock()
	ctx := context.Background()

	d1 := fixture.addAction(t, constant.ActionKindCreate)
	d2 := fixture.addAction(t, constant.ActionKindCreate, d1.ID)

	var executionIDs []string

	recordExecution := func(_ context.Context, req *sandbox.Request, _ time.Duration, _ func(context.Context, *sandbox.Event)) {
		executionIDs = append(executionIDs, req.ExecutionID)
	}

	// First pass: only D1 runs, and it fails.
	fixture.sandboxMock.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req *sandbox.Request, timeout time.Duration, onEvent func(context.Context, *sandbox.Event)) (*sandbox.FunctionResult, error) {
			recordExecution(ctx, req, timeout, onEvent)

			return failureResult(), nil
		}).
		Times(1)

	require.NoError(t, fixture.uc.DispatchActions(ctx, "ws-1", "cs-1"))

	assert.Equal(t, []string{d1.ID}, fixture.actions.dispatched)

	stored1, err := fixture.actions.Find(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.ActionStateFailed, stored1.State)
	require.NotNil(t, stored1.FuncRunID, "func run id must be recorded before dispatch")
	require.Len(t, executionIDs, 1)
	assert.Equal(t, *stored1.FuncRunID, executionIDs[0], "sandbox must see the recorded func run id")

	stored2, err := fixture.actions.Find(ctx, d2.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.ActionStateQueued, stored2.State, "dependent must stay queued behind a failure")

	// Hold then resume the failed action.
	fixture.producer.EXPECT().
		ProducerDefault(gomock.Any(), constant.ExchangeName, constant.SubjectJobs("ws-1", "cs-1"), gomock.Any()).
		Return(nil, nil)

	_, err = fixture.uc.HoldAction(ctx, d1.ID)
	require.NoError(t, err)

	_, err = fixture.uc.ResumeAction(ctx, d1.ID)
	require.NoError(t, err)

	// Second pass: D1 succeeds and D2 dispatches in the same pass.
	fixture.sandboxMock.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req *sandbox.Request, timeout time.Duration, onEvent func(context.Context, *sandbox.Event)) (*sandbox.FunctionResult, error) {
			recordExecution(ctx, req, timeout, onEvent)

			return successResult(), nil
		}).
		Times(2)

	require.NoError(t, fixture.uc.DispatchActions(ctx, "ws-1", "cs-1"))

	assert.Equal(t, []string{d1.ID, d1.ID, d2.ID}, fixture.actions.dispatched)

	// The retried dispatch reuses the execution id recorded on the
	// first attempt; only the fresh action mints a new one.
	require.Len(t, executionIDs, 3)
	assert.Equal(t, executionIDs[0], executionIDs[1], "retry must reuse the recorded func run id")
	assert.NotEqual(t, executionIDs[0], executionIDs[2])

	_, err = fixture.actions.Find(ctx, d1.ID)
	assert.Error(t, err, "successful actions leave the table")
	_, err = fixture.actions.Find(ctx, d2.ID)
	assert.Error(t, err)
}

func TestDispatchOrdersByKindPriorityThenID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fixture := newExecutorFixture(t, ctrl)
	fixture.allowLock()
	ctx := context.Background()

	manual := fixture.addAction(t, constant.ActionKindManual)
	create := fixture.addAction(t, constant.ActionKindCreate)
	destroy := fixture.addAction(t, constant.ActionKindDestroy)
	update := fixture.addAction(t, constant.ActionKindUpdate)

	fixture.sandboxMock.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(successResult(), nil).
		Times(4)

	require.NoError(t, fixture.uc.DispatchActions(ctx, "ws-1", "cs-1"))

	assert.Equal(t, []string{destroy.ID, update.ID, create.ID, manual.ID}, fixture.actions.dispatched)
}

func TestDispatchSkipsWhenLockHeld(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fixture := newExecutorFixture(t, ctrl)
	ctx := context.Background()

	fixture.addAction(t, constant.ActionKindCreate)

	fixture.locks.EXPECT().
		AcquireLock(gomock.Any(), "loom:dispatcher:ws-1", gomock.Any()).
		Return(false, nil)

	// No sandbox expectations: nothing may dispatch without the lock.
	require.NoError(t, fixture.uc.DispatchActions(ctx, "ws-1", "cs-1"))
	assert.Empty(t, fixture.actions.dispatched)
}

func TestCancelRunningActionRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fixture := newExecutorFixture(t, ctrl)
	ctx := context.Background()

	a := fixture.addAction(t, constant.ActionKindCreate)

	_, err := fixture.actions.UpdateState(ctx, a.ID, constant.ActionStateDispatched)
	require.NoError(t, err)
	_, err = fixture.actions.UpdateState(ctx, a.ID, constant.ActionStateRunning)
	require.NoError(t, err)

	err = fixture.uc.CancelAction(ctx, a.ID)
	require.Error(t, err)

	// Queued actions cancel cleanly.
	b := fixture.addAction(t, constant.ActionKindManual)
	require.NoError(t, fixture.uc.CancelAction(ctx, b.ID))

	_, err = fixture.actions.Find(ctx, b.ID)
	assert.Error(t, err)
}

func TestRehomeActionsMovesQueuedAndDispatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fixture := newExecutorFixture(t, ctrl)
	fixture.allowLock()
	ctx := context.Background()

	// One queued action on the applied change set, re-homed onto head.
	a := fixture.addAction(t, constant.ActionKindCreate)

	headCS := &mmodel.ChangeSet{
		ID:              "head",
		WorkspaceID:     "ws-1",
		Status:          constant.ChangeSetStatusOpen,
		SnapshotAddress: fixture.changeSet.SnapshotAddress,
	}

	changeSets := fixture.uc.ChangeSetRepo.(*changeset.MockRepository)
	changeSets.EXPECT().Find(gomock.Any(), "head").Return(headCS, nil).AnyTimes()

	fixture.sandboxMock.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(successResult(), nil).
		Times(1)

	require.NoError(t, fixture.uc.RehomeActions(ctx, "ws-1", "cs-1", "head"))

	_, err := fixture.actions.Find(ctx, a.ID)
	assert.Error(t, err, "re-homed action must have dispatched and completed on head")
}
