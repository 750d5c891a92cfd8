package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/weftworks/loom/components/viewstream/internal/adapters/mongodb/view"
	"github.com/weftworks/loom/components/viewstream/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/mmodel"
)

// fakeViewRepo is an in-memory content-addressed view store.
type fakeViewRepo struct {
	mu   sync.Mutex
	docs map[string]*view.Document
}

func newFakeViewRepo() *fakeViewRepo {
	return &fakeViewRepo{docs: make(map[string]*view.Document)}
}

func (f *fakeViewRepo) key(kind constant.ViewKind, id, checksum string) string {
	return string(kind) + "/" + id + "/" + checksum
}

func (f *fakeViewRepo) Upsert(_ context.Context, doc *view.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := f.key(doc.Kind, doc.ViewID, doc.Checksum)

	if _, exists := f.docs[key]; !exists {
		f.docs[key] = doc
	}

	return nil
}

func (f *fakeViewRepo) Find(_ context.Context, kind constant.ViewKind, viewID, checksum string) (*view.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, ok := f.docs[f.key(kind, viewID, checksum)]
	if !ok {
		return nil, pkg.ValidateBusinessError(constant.ErrEntityNotFound, "view", viewID)
	}

	return doc, nil
}

// fakeIndexRepo is an in-memory index store.
type fakeIndexRepo struct {
	mu        sync.Mutex
	indexes   map[string][]mmodel.IndexEntry
	addresses map[string]string
}

func newFakeIndexRepo() *fakeIndexRepo {
	return &fakeIndexRepo{
		indexes:   make(map[string][]mmodel.IndexEntry),
		addresses: make(map[string]string),
	}
}

func (f *fakeIndexRepo) GetIndex(_ context.Context, workspaceID, changeSetID string) ([]mmodel.IndexEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.indexes[workspaceID+"/"+changeSetID], nil
}

func (f *fakeIndexRepo) SetIndex(_ context.Context, workspaceID, changeSetID string, entries []mmodel.IndexEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.indexes[workspaceID+"/"+changeSetID] = entries

	return nil
}

func (f *fakeIndexRepo) GetLastBuiltAddress(_ context.Context, workspaceID, changeSetID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.addresses[workspaceID+"/"+changeSetID], nil
}

func (f *fakeIndexRepo) SetLastBuiltAddress(_ context.Context, workspaceID, changeSetID, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.addresses[workspaceID+"/"+changeSetID] = address

	return nil
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

// published collects everything the producer saw, keyed by subject
// prefix.
type published struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func capturingProducer(ctrl *gomock.Controller) (*rabbitmq.MockProducerRepository, *published) {
	captured := &published{messages: make(map[string][][]byte)}

	producer := rabbitmq.NewMockProducerRepository(ctrl)
	producer.EXPECT().
		ProducerDefault(gomock.Any(), constant.ExchangeName, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, key string, message []byte) (*string, error) {
			captured.mu.Lock()
			defer captured.mu.Unlock()

			prefix := strings.SplitN(key, ".", 2)[0]
			captured.messages[prefix] = append(captured.messages[prefix], message)

			return nil, nil
		}).
		AnyTimes()

	return producer, captured
}

func buildFixtureGraph(t *testing.T, store *fakeBlobStore) (*graph.Graph, graph.ID, string) {
	t.Helper()

	g := graph.New()

	category, err := g.EnsureCategory(graph.CategoryComponent)
	require.NoError(t, err)

	componentID := graph.NewID()
	require.NoError(t, g.AddNode(&graph.Node{ID: componentID, Weight: graph.ComponentWeight{
		ContentAddress: cas.HashBytes([]byte("component-content")),
	}}))
	require.NoError(t, g.AddEdge(category, componentID, graph.EdgeWeight{Kind: graph.EdgeKindUse}))

	address, err := g.Serialize(context.Background(), store)
	require.NoError(t, err)

	return g, componentID, address.String()
}

func lastPatchBatch(t *testing.T, captured *published) *mmodel.PatchBatch {
	t.Helper()

	captured.mu.Lock()
	defer captured.mu.Unlock()

	messages := captured.messages["patch"]
	require.NotEmpty(t, messages)

	var envelope mmodel.Envelope

	require.NoError(t, json.Unmarshal(messages[len(messages)-1], &envelope))

	var batch mmodel.PatchBatch

	require.NoError(t, envelope.Open(&batch))

	return &batch
}

func TestBuildViewsFirstBuildEmitsAllTriggeredKinds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newFakeBlobStore()
	views := newFakeViewRepo()
	index := newFakeIndexRepo()
	producer, captured := capturingProducer(ctrl)

	uc := &UseCase{ViewRepo: views, IndexRepo: index, Producer: producer, Snapshots: store}

	_, componentID, address := buildFixtureGraph(t, store)
	ctx := context.Background()

	require.NoError(t, uc.BuildViews(ctx, "ws-1", "cs-1", address, false))

	batch := lastPatchBatch(t, captured)
	require.NotEmpty(t, batch.Patches)

	// Every patch's target checksum must match the stored document it
	// references, which is itself the checksum of the rebuilt body.
	for _, p := range batch.Patches {
		doc, err := views.Find(ctx, p.Kind, p.ID, p.ToChecksum)
		require.NoError(t, err)
		assert.Equal(t, p.ToChecksum, Checksum(doc.Body))
		assert.Empty(t, p.FromChecksum, "first build patches start from nothing")
	}

	entries, err := index.GetIndex(ctx, "ws-1", "cs-1")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var foundDetail bool

	for _, entry := range entries {
		if entry.Kind == constant.ViewKindComponentDetail && entry.ID == string(componentID) {
			foundDetail = true
		}
	}

	assert.True(t, foundDetail, "per-component detail view must be indexed")

	lastAddress, err := index.GetLastBuiltAddress(ctx, "ws-1", "cs-1")
	require.NoError(t, err)
	assert.Equal(t, address, lastAddress)

	captured.mu.Lock()
	assert.NotEmpty(t, captured.messages["index"], "index update must be published")
	captured.mu.Unlock()
}

func TestBuildViewsIncrementalOnlyPatchesChanged(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newFakeBlobStore()
	views := newFakeViewRepo()
	index := newFakeIndexRepo()
	producer, captured := capturingProducer(ctrl)

	uc := &UseCase{ViewRepo: views, IndexRepo: index, Producer: producer, Snapshots: store}

	g, componentID, address := buildFixtureGraph(t, store)
	ctx := context.Background()

	require.NoError(t, uc.BuildViews(ctx, "ws-1", "cs-1", address, false))

	firstIndex, err := index.GetIndex(ctx, "ws-1", "cs-1")
	require.NoError(t, err)

	// Mutate the component's content and build again.
	require.NoError(t, g.ReplaceNodeContent(componentID, graph.ComponentWeight{
		ContentAddress: cas.HashBytes([]byte("new-content")),
	}))

	nextAddress, err := g.Serialize(ctx, store)
	require.NoError(t, err)

	require.NoError(t, uc.BuildViews(ctx, "ws-1", "cs-1", nextAddress.String(), false))

	batch := lastPatchBatch(t, captured)

	for _, p := range batch.Patches {
		assert.Equal(t, constant.ViewKindComponentDetail, p.Kind,
			"only the content-sensitive view may move on a content-only change")
		assert.NotEmpty(t, p.FromChecksum)
		assert.NotEqual(t, p.FromChecksum, p.ToChecksum)
	}

	secondIndex, err := index.GetIndex(ctx, "ws-1", "cs-1")
	require.NoError(t, err)

	changedEntries := 0

	firstByKey := make(map[string]string)

	for _, entry := range firstIndex {
		firstByKey[string(entry.Kind)+"/"+entry.ID] = entry.Checksum
	}

	for _, entry := range secondIndex {
		if firstByKey[string(entry.Kind)+"/"+entry.ID] != entry.Checksum {
			changedEntries++
		}
	}

	assert.Equal(t, 1, changedEntries, "exactly the component detail checksum moves")
}

func TestBuildViewsSameAddressIsNoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newFakeBlobStore()
	views := newFakeViewRepo()
	index := newFakeIndexRepo()
	producer, captured := capturingProducer(ctrl)

	uc := &UseCase{ViewRepo: views, IndexRepo: index, Producer: producer, Snapshots: store}

	_, _, address := buildFixtureGraph(t, store)
	ctx := context.Background()

	require.NoError(t, uc.BuildViews(ctx, "ws-1", "cs-1", address, false))

	captured.mu.Lock()
	patchCount := len(captured.messages["patch"])
	captured.mu.Unlock()

	require.NoError(t, uc.BuildViews(ctx, "ws-1", "cs-1", address, false))

	captured.mu.Lock()
	assert.Equal(t, patchCount, len(captured.messages["patch"]), "same address must not rebuild")
	captured.mu.Unlock()
}

func TestBootstrapChangeSetCopiesBaseIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newFakeBlobStore()
	views := newFakeViewRepo()
	index := newFakeIndexRepo()
	producer, captured := capturingProducer(ctrl)

	uc := &UseCase{ViewRepo: views, IndexRepo: index, Producer: producer, Snapshots: store}

	ctx := context.Background()

	baseEntries := []mmodel.IndexEntry{
		{Kind: constant.ViewKindComponentList, ID: "all", Checksum: "abc"},
	}

	require.NoError(t, index.SetIndex(ctx, "ws-1", "base", baseEntries))
	require.NoError(t, index.SetLastBuiltAddress(ctx, "ws-1", "base", "addr-1"))

	baseID := "base"

	require.NoError(t, uc.BootstrapChangeSet(ctx, &mmodel.ChangeSet{
		ID:              "fork",
		WorkspaceID:     "ws-1",
		BaseChangeSetID: &baseID,
	}))

	forkEntries, err := index.GetIndex(ctx, "ws-1", "fork")
	require.NoError(t, err)
	assert.Equal(t, baseEntries, forkEntries)

	forkAddress, err := index.GetLastBuiltAddress(ctx, "ws-1", "fork")
	require.NoError(t, err)
	assert.Equal(t, "addr-1", forkAddress)

	captured.mu.Lock()
	assert.NotEmpty(t, captured.messages["index"])
	captured.mu.Unlock()
}
