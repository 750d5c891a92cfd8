package graph

import (
	"sort"

	"github.com/weftworks/loom/pkg"
	cn "github.com/weftworks/loom/pkg/constant"
)

// Dependent-value bookkeeping. The DependentValueRoots category node
// anchors one DependentValueRoot node per attribute value that changed
// since the last propagation run.

// MarkDependentValue records an attribute value as dirty. Idempotent.
func (g *Graph) MarkDependentValue(valueID ID) error {
	if _, ok := g.nodes[valueID]; !ok {
		return pkg.ValidateBusinessError(cn.ErrNodeNotFound, "attribute value", valueID)
	}

	for _, existing := range g.DirtyValueIDs() {
		if existing == valueID {
			return nil
		}
	}

	category, err := g.EnsureCategory(CategoryDependentValueRoots)
	if err != nil {
		return err
	}

	rootID := NewID()

	if err := g.AddNode(&Node{ID: rootID, LineageID: rootID, Weight: DependentValueRootWeight{ValueID: valueID}}); err != nil {
		return err
	}

	return g.AddEdge(category, rootID, EdgeWeight{Kind: EdgeKindUse})
}

// DirtyValueIDs lists the attribute values currently marked dirty,
// sorted by id.
func (g *Graph) DirtyValueIDs() []ID {
	category, ok := g.CategoryNode(CategoryDependentValueRoots)
	if !ok {
		return nil
	}

	var ids []ID

	for _, e := range g.Outgoing(category, EdgeKindUse) {
		n, found := g.nodes[e.To]
		if !found {
			continue
		}

		if w, isRoot := n.Weight.(DependentValueRootWeight); isRoot {
			ids = append(ids, w.ValueID)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// ClearDependentValueRoots removes every dirty marker.
func (g *Graph) ClearDependentValueRoots() {
	category, ok := g.CategoryNode(CategoryDependentValueRoots)
	if !ok {
		return
	}

	for _, e := range g.Outgoing(category, EdgeKindUse) {
		if n, found := g.nodes[e.To]; found {
			if _, isRoot := n.Weight.(DependentValueRootWeight); isRoot {
				g.RemoveNode(n.ID)
			}
		}
	}
}

// SubscriptionSources returns the attribute values the given value
// subscribes to, with the path expression per edge. The value depends
// on each source: sources must be computed first.
func (g *Graph) SubscriptionSources(valueID ID) []Edge {
	return g.Outgoing(valueID, EdgeKindSubscription)
}

// SubscriptionDependents returns the attribute values subscribed to the
// given value.
func (g *Graph) SubscriptionDependents(valueID ID) []Edge {
	return g.Incoming(valueID, EdgeKindSubscription)
}

// PrototypeFunc resolves the function bound to an attribute value via
// its single prototype edge.
func (g *Graph) PrototypeFunc(valueID ID) (*Node, error) {
	edges := g.Outgoing(valueID, EdgeKindPrototype)
	if len(edges) == 0 {
		return nil, pkg.ValidateBusinessError(cn.ErrEntityNotFound, "prototype", valueID)
	}

	if len(edges) > 1 {
		return nil, pkg.ValidateBusinessError(cn.ErrExclusiveEdgeMismatch, "attribute value", valueID, EdgeKindPrototype)
	}

	funcNode, ok := g.nodes[edges[0].To]
	if !ok {
		return nil, pkg.ValidateBusinessError(cn.ErrNodeNotFound, "func", edges[0].To)
	}

	return funcNode, nil
}
