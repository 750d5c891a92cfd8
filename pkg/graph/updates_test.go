package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
)

func TestDetectUpdatesEmptyOnEqualGraphs(t *testing.T) {
	g := New()
	addComponent(t, g)

	updates, err := g.Copy().DetectUpdates(g)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestDetectAndApplyConcurrentComponentCreation(t *testing.T) {
	// Two change sets fork the same base and each add one component.
	// Applying the second's delta onto the merged graph must keep both.
	base := New()
	_, err := base.EnsureCategory(CategoryComponent)
	require.NoError(t, err)

	cs1 := base.Copy()
	cs2 := base.Copy()

	xID := addComponent(t, cs1)
	yID := addComponent(t, cs2)

	head := base.Copy()

	deltaOne, err := cs1.DetectUpdates(base)
	require.NoError(t, err)
	require.NotEmpty(t, deltaOne)

	corrected, err := head.CorrectTransforms(deltaOne, true)
	require.NoError(t, err)
	require.NoError(t, head.ApplyUpdates(corrected))

	deltaTwo, err := cs2.DetectUpdates(base)
	require.NoError(t, err)

	corrected, err = head.CorrectTransforms(deltaTwo, true)
	require.NoError(t, err)
	require.NoError(t, head.ApplyUpdates(corrected))

	_, okX := head.GetNode(xID)
	_, okY := head.GetNode(yID)
	assert.True(t, okX, "first creation must survive the merge")
	assert.True(t, okY, "second creation must survive the merge")

	components := head.NodesByKind(NodeKindComponent)
	assert.Len(t, components, 2)
}

func TestDetectUpdatesEmitsRemoveEdge(t *testing.T) {
	base := New()
	componentID := addComponent(t, base)
	category, _ := base.CategoryNode(CategoryComponent)

	modified := base.Copy()
	modified.RemoveEdge(category, componentID, EdgeKindUse)

	updates, err := modified.DetectUpdates(base)
	require.NoError(t, err)

	var removes int

	for _, u := range updates {
		if r, ok := u.(UpdateRemoveEdge); ok {
			removes++

			assert.Equal(t, componentID, r.To)
		}
	}

	assert.Equal(t, 1, removes)
}

func TestDetectUpdatesEmitsReplaceOnContentChange(t *testing.T) {
	base := New()
	componentID := addComponent(t, base)

	modified := base.Copy()
	require.NoError(t, modified.ReplaceNodeContent(componentID, ComponentWeight{
		ContentAddress: cas.HashBytes([]byte("new content")),
	}))

	updates, err := modified.DetectUpdates(base)
	require.NoError(t, err)
	require.Len(t, updates, 1)

	rs, ok := updates[0].(UpdateReplaceSubgraph)
	require.True(t, ok)
	require.Len(t, rs.Nodes, 1)
	assert.Equal(t, componentID, rs.Nodes[0].ID)
}

func TestExclusiveEdgeCorrection(t *testing.T) {
	// Two change sets each point the same component's default view at a
	// different view node. After the second apply exactly one
	// DefaultView edge remains, owned by the later applier.
	base := New()
	componentID := addComponent(t, base)
	viewCategory, err := base.EnsureCategory(CategoryView)
	require.NoError(t, err)

	addView := func(g *Graph) ID {
		id := NewID()
		require.NoError(t, g.AddNode(&Node{ID: id, Weight: ViewWeight{Name: string(id)}}))
		require.NoError(t, g.AddEdge(viewCategory, id, EdgeWeight{Kind: EdgeKindUse}))

		return id
	}

	cs1 := base.Copy()
	cs2 := base.Copy()

	view1 := addView(cs1)
	require.NoError(t, cs1.AddEdge(componentID, view1, EdgeWeight{Kind: EdgeKindDefaultView}))

	view2 := addView(cs2)
	require.NoError(t, cs2.AddEdge(componentID, view2, EdgeWeight{Kind: EdgeKindDefaultView}))

	head := base.Copy()

	for _, cs := range []*Graph{cs1, cs2} {
		delta, err := cs.DetectUpdates(base)
		require.NoError(t, err)

		corrected, err := head.CorrectTransforms(delta, true)
		require.NoError(t, err)
		require.NoError(t, head.ApplyUpdates(corrected))
	}

	edges := head.Outgoing(componentID, EdgeKindDefaultView)
	require.Len(t, edges, 1)
	assert.Equal(t, view2, edges[0].To, "later applier wins the exclusive edge")
}

func TestExclusiveEdgeCorrectedOnOwnChangeSetBatch(t *testing.T) {
	// A single client batch that points the same component's default
	// view at two different views must land with exactly one edge, the
	// later write winning, on the ordinary non-external rebase path.
	g := New()
	componentID := addComponent(t, g)

	addView := func() ID {
		id := NewID()
		require.NoError(t, g.AddNode(&Node{ID: id, Weight: ViewWeight{Name: string(id)}}))
		require.NoError(t, g.AddEdge(g.RootID(), id, EdgeWeight{Kind: EdgeKindUse}))

		return id
	}

	view1 := addView()
	view2 := addView()

	batch := []Update{
		UpdateNewEdge{From: componentID, To: view1, Weight: EdgeWeight{Kind: EdgeKindDefaultView}},
		UpdateNewEdge{From: componentID, To: view2, Weight: EdgeWeight{Kind: EdgeKindDefaultView}},
	}

	corrected, err := g.CorrectTransforms(batch, false)
	require.NoError(t, err)
	require.NoError(t, g.ApplyUpdates(corrected))

	edges := g.Outgoing(componentID, EdgeKindDefaultView)
	require.Len(t, edges, 1)
	assert.Equal(t, view2, edges[0].To, "later write in the batch wins")
}

func TestApplyUpdatesRejectsExclusiveEdgeViolation(t *testing.T) {
	// The same conflicting batch applied without corrections must not
	// land silently: the post-merge invariant check reports it.
	g := New()
	componentID := addComponent(t, g)

	addView := func() ID {
		id := NewID()
		require.NoError(t, g.AddNode(&Node{ID: id, Weight: ViewWeight{Name: string(id)}}))
		require.NoError(t, g.AddEdge(g.RootID(), id, EdgeWeight{Kind: EdgeKindUse}))

		return id
	}

	view1 := addView()
	view2 := addView()

	err := g.ApplyUpdates([]Update{
		UpdateNewEdge{From: componentID, To: view1, Weight: EdgeWeight{Kind: EdgeKindDefaultView}},
		UpdateNewEdge{From: componentID, To: view2, Weight: EdgeWeight{Kind: EdgeKindDefaultView}},
	})
	require.Error(t, err)

	var mismatch pkg.ExclusiveEdgeMismatchError

	assert.True(t, errors.As(err, &mismatch))
	assert.Equal(t, string(componentID), mismatch.NodeID)
}

func TestCategoryMergeOnIndependentCreation(t *testing.T) {
	// Base has no secret category. Both sides create one independently;
	// the merged graph must hold a single category anchoring both
	// secrets.
	base := New()

	addSecret := func(g *Graph, name string) ID {
		category, err := g.EnsureCategory(CategorySecret)
		require.NoError(t, err)

		id := NewID()
		require.NoError(t, g.AddNode(&Node{ID: id, Weight: SecretWeight{Name: name}}))
		require.NoError(t, g.AddEdge(category, id, EdgeWeight{Kind: EdgeKindUse}))

		return id
	}

	cs1 := base.Copy()
	cs2 := base.Copy()

	secret1 := addSecret(cs1, "alpha")
	secret2 := addSecret(cs2, "beta")

	head := base.Copy()

	for _, cs := range []*Graph{cs1, cs2} {
		delta, err := cs.DetectUpdates(base)
		require.NoError(t, err)

		corrected, err := head.CorrectTransforms(delta, true)
		require.NoError(t, err)
		require.NoError(t, head.ApplyUpdates(corrected))
	}

	var categories int

	for _, e := range head.Outgoing(head.RootID(), EdgeKindUse) {
		n, ok := head.GetNode(e.To)
		require.True(t, ok)

		if cw, isCat := n.Weight.(CategoryWeight); isCat && cw.Category == CategorySecret {
			categories++

			targets := head.Outgoing(n.ID, EdgeKindUse)
			assert.Len(t, targets, 2)
		}
	}

	assert.Equal(t, 1, categories)

	_, ok1 := head.GetNode(secret1)
	_, ok2 := head.GetNode(secret2)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestApplyUpdatesMissingNode(t *testing.T) {
	g := New()

	err := g.ApplyUpdates([]Update{
		UpdateNewEdge{From: g.RootID(), To: NewID(), Weight: EdgeWeight{Kind: EdgeKindUse}},
	})
	assert.Error(t, err)
}

func TestEmptyChangeBatchIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBlobStore()

	g := New()
	addComponent(t, g)

	before, err := g.Serialize(ctx, store)
	require.NoError(t, err)

	batchAddress, err := WriteChangeBatch(ctx, store, nil)
	require.NoError(t, err)

	updates, err := ReadChangeBatch(ctx, store, batchAddress)
	require.NoError(t, err)
	require.Empty(t, updates)

	require.NoError(t, g.ApplyUpdates(updates))

	after, err := g.Serialize(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestChangeBatchWireRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBlobStore()

	node := &Node{ID: NewID(), Weight: AttributeValueWeight{
		Value:  cas.HashBytes([]byte("v")),
		Status: constant.AttributeValueStatusOk,
	}}
	target := NewID()

	in := []Update{
		UpdateReplaceSubgraph{Nodes: []*Node{node}},
		UpdateNewEdge{From: node.ID, To: target, Weight: EdgeWeight{Kind: EdgeKindSubscription, Path: "/domain/region"}},
		UpdateRemoveEdge{From: node.ID, To: target, Kind: EdgeKindUse},
		UpdateMergeCategoryNodes{Keep: node.ID, Drop: target},
	}

	address, err := WriteChangeBatch(ctx, store, in)
	require.NoError(t, err)

	out, err := ReadChangeBatch(ctx, store, address)
	require.NoError(t, err)
	require.Len(t, out, len(in))

	rs, ok := out[0].(UpdateReplaceSubgraph)
	require.True(t, ok)
	require.Len(t, rs.Nodes, 1)
	assert.Equal(t, node.ID, rs.Nodes[0].ID)
	assert.Equal(t, node.Weight, rs.Nodes[0].Weight)

	ne, ok := out[1].(UpdateNewEdge)
	require.True(t, ok)
	assert.Equal(t, "/domain/region", ne.Weight.Path)

	_, ok = out[2].(UpdateRemoveEdge)
	require.True(t, ok)

	mc, ok := out[3].(UpdateMergeCategoryNodes)
	require.True(t, ok)
	assert.Equal(t, node.ID, mc.Keep)
}
