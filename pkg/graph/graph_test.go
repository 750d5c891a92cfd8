package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
)

// memoryBlobStore is a plain map-backed BlobStore for tests.
type memoryBlobStore struct {
	mu    sync.Mutex
	blobs map[cas.Hash][]byte
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{blobs: make(map[cas.Hash][]byte)}
}

func (m *memoryBlobStore) Put(_ context.Context, value []byte) (cas.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := cas.HashBytes(value)
	m.blobs[hash] = value

	return hash, nil
}

func (m *memoryBlobStore) Get(_ context.Context, hash cas.Hash) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.blobs[hash]

	return value, ok, nil
}

func addComponent(t *testing.T, g *Graph) ID {
	t.Helper()

	category, err := g.EnsureCategory(CategoryComponent)
	require.NoError(t, err)

	id := NewID()
	require.NoError(t, g.AddNode(&Node{ID: id, Weight: ComponentWeight{ContentAddress: cas.HashBytes([]byte(id))}}))
	require.NoError(t, g.AddEdge(category, id, EdgeWeight{Kind: EdgeKindUse}))

	return id
}

func TestAddAndLookup(t *testing.T) {
	g := New()

	componentID := addComponent(t, g)

	n, ok := g.GetNode(componentID)
	require.True(t, ok)
	assert.Equal(t, NodeKindComponent, n.Weight.Kind())
	assert.Equal(t, componentID, n.LineageID)

	category, ok := g.CategoryNode(CategoryComponent)
	require.True(t, ok)

	outgoing := g.Outgoing(category, EdgeKindUse)
	require.Len(t, outgoing, 1)
	assert.Equal(t, componentID, outgoing[0].To)

	incoming := g.Incoming(componentID, EdgeKindUse)
	require.Len(t, incoming, 1)
	assert.Equal(t, category, incoming[0].From)
}

func TestDuplicateNodeRejected(t *testing.T) {
	g := New()

	id := NewID()
	require.NoError(t, g.AddNode(&Node{ID: id, Weight: ContentWeight{}}))

	err := g.AddNode(&Node{ID: id, Weight: ContentWeight{}})
	assert.Error(t, err)
}

func TestRemoveEdgeIdempotent(t *testing.T) {
	g := New()

	componentID := addComponent(t, g)
	category, _ := g.CategoryNode(CategoryComponent)

	before, err := g.Address()
	require.NoError(t, err)

	// Removing an edge that is not there must change nothing.
	g.RemoveEdge(category, componentID, EdgeKindContain)

	after, err := g.Address()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	g.RemoveEdge(category, componentID, EdgeKindUse)
	g.RemoveEdge(category, componentID, EdgeKindUse)

	assert.Empty(t, g.Outgoing(category, EdgeKindUse))
}

func TestRemoveNodeDropsIncidentEdges(t *testing.T) {
	g := New()

	componentID := addComponent(t, g)
	viewID := NewID()
	require.NoError(t, g.AddNode(&Node{ID: viewID, Weight: ViewWeight{Name: "main"}}))
	require.NoError(t, g.AddEdge(componentID, viewID, EdgeWeight{Kind: EdgeKindDefaultView}))

	g.RemoveNode(viewID)

	assert.Empty(t, g.Outgoing(componentID, EdgeKindDefaultView))
	_, ok := g.GetNode(viewID)
	assert.False(t, ok)
}

func TestCycleForbidden(t *testing.T) {
	g := New()

	a := NewID()
	b := NewID()
	require.NoError(t, g.AddNode(&Node{ID: a, Weight: ContentWeight{}}))
	require.NoError(t, g.AddNode(&Node{ID: b, Weight: ContentWeight{}}))

	require.NoError(t, g.AddEdge(a, b, EdgeWeight{Kind: EdgeKindContain}))

	err := g.AddEdge(b, a, EdgeWeight{Kind: EdgeKindContain})
	assert.Error(t, err)

	// Subscription edges may close cycles; the dependent-value engine
	// deals with them.
	require.NoError(t, g.AddEdge(b, a, EdgeWeight{Kind: EdgeKindSubscription, Path: "/x"}))
}

func TestMerkleChangesOnMutation(t *testing.T) {
	g := New()

	before, err := g.Address()
	require.NoError(t, err)

	addComponent(t, g)

	after, err := g.Address()
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestMerkleInvariantUnderCommutativeOrder(t *testing.T) {
	base := New()
	addComponent(t, base)
	category, err := base.EnsureCategory(CategorySecret)
	require.NoError(t, err)

	left := base.Copy()
	right := base.Copy()

	// Two independent single-node additions commute.
	x := &Node{ID: NewID(), Weight: SecretWeight{Name: "a"}}
	y := &Node{ID: NewID(), Weight: SecretWeight{Name: "b"}}

	forward := []Update{
		UpdateReplaceSubgraph{Nodes: []*Node{x}},
		UpdateNewEdge{From: category, To: x.ID, Weight: EdgeWeight{Kind: EdgeKindUse}},
		UpdateReplaceSubgraph{Nodes: []*Node{y}},
		UpdateNewEdge{From: category, To: y.ID, Weight: EdgeWeight{Kind: EdgeKindUse}},
	}
	reversed := []Update{forward[2], forward[3], forward[0], forward[1]}

	require.NoError(t, left.ApplyUpdates(forward))
	require.NoError(t, right.ApplyUpdates(reversed))

	leftRoot, err := left.MerkleRoot()
	require.NoError(t, err)
	rightRoot, err := right.MerkleRoot()
	require.NoError(t, err)

	assert.Equal(t, leftRoot, rightRoot)
}

func TestSerializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBlobStore()

	g := New()
	componentID := addComponent(t, g)
	avID := NewID()
	require.NoError(t, g.AddNode(&Node{ID: avID, Weight: AttributeValueWeight{Status: constant.AttributeValueStatusOk}}))
	require.NoError(t, g.AddEdge(componentID, avID, EdgeWeight{Kind: EdgeKindContain}))

	address, err := g.Serialize(ctx, store)
	require.NoError(t, err)

	loaded, err := Load(ctx, store, address)
	require.NoError(t, err)

	reloadedAddress, err := loaded.Address()
	require.NoError(t, err)
	assert.Equal(t, address, reloadedAddress)

	wantRoot, err := g.MerkleRoot()
	require.NoError(t, err)
	gotRoot, err := loaded.MerkleRoot()
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)

	n, ok := loaded.GetNode(avID)
	require.True(t, ok)
	assert.Equal(t, NodeKindAttributeValue, n.Weight.Kind())
}

func TestSerializeGarbageCollectsUnreachable(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBlobStore()

	g := New()

	orphan := NewID()
	require.NoError(t, g.AddNode(&Node{ID: orphan, Weight: ContentWeight{}}))

	address, err := g.Serialize(ctx, store)
	require.NoError(t, err)

	loaded, err := Load(ctx, store, address)
	require.NoError(t, err)

	_, ok := loaded.GetNode(orphan)
	assert.False(t, ok)
}

func TestLoadMissingSnapshot(t *testing.T) {
	_, err := Load(context.Background(), newMemoryBlobStore(), cas.HashBytes([]byte("nope")))
	assert.Error(t, err)
}

func TestDirtyValueBookkeeping(t *testing.T) {
	g := New()

	componentID := addComponent(t, g)
	avID := NewID()
	require.NoError(t, g.AddNode(&Node{ID: avID, Weight: AttributeValueWeight{}}))
	require.NoError(t, g.AddEdge(componentID, avID, EdgeWeight{Kind: EdgeKindContain}))

	require.NoError(t, g.MarkDependentValue(avID))
	require.NoError(t, g.MarkDependentValue(avID))

	assert.Equal(t, []ID{avID}, g.DirtyValueIDs())

	g.ClearDependentValueRoots()
	assert.Empty(t, g.DirtyValueIDs())
}
