package graph

import (
	"sort"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	cn "github.com/weftworks/loom/pkg/constant"
)

// Node is one graph entry: a stable id, the lineage id preserved across
// copies, the typed weight and the cached merkle hash of its subtree.
type Node struct {
	ID        ID
	LineageID ID
	Weight    NodeWeight

	merkle cas.Hash
}

// MerkleTreeHash is the subtree hash as of the last ComputeMerkle.
func (n *Node) MerkleTreeHash() cas.Hash {
	return n.merkle
}

// Graph is the in-memory working copy of one workspace snapshot: an
// arena of nodes keyed by id plus typed adjacency. All cross-references
// are ids, never pointers, so copies and serialization walk by id.
type Graph struct {
	root  ID
	nodes map[ID]*Node
	out   map[ID][]Edge
	in    map[ID][]Edge

	dirty bool
}

// New creates an empty graph with a fresh root node.
func New() *Graph {
	g := &Graph{
		nodes: make(map[ID]*Node),
		out:   make(map[ID][]Edge),
		in:    make(map[ID][]Edge),
	}

	rootID := NewID()
	g.nodes[rootID] = &Node{ID: rootID, LineageID: rootID, Weight: RootWeight{}}
	g.root = rootID
	g.dirty = true

	return g
}

// RootID returns the id of the root node.
func (g *Graph) RootID() ID {
	return g.root
}

// GetNode looks a node up by id.
func (g *Graph) GetNode(id ID) (*Node, bool) {
	n, ok := g.nodes[id]

	return n, ok
}

// NodeCount reports the arena size, including unreachable nodes not yet
// garbage-collected.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Outgoing returns the edges leaving id, optionally filtered by kind
// (empty kind matches all). Results are sorted for determinism.
func (g *Graph) Outgoing(id ID, kind EdgeKind) []Edge {
	return filterEdges(g.out[id], kind)
}

// Incoming returns the edges arriving at id, optionally filtered by
// kind.
func (g *Graph) Incoming(id ID, kind EdgeKind) []Edge {
	return filterEdges(g.in[id], kind)
}

func filterEdges(edges []Edge, kind EdgeKind) []Edge {
	matched := make([]Edge, 0, len(edges))

	for _, e := range edges {
		if kind == "" || e.Weight.Kind == kind {
			matched = append(matched, e)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Weight.Kind != matched[j].Weight.Kind {
			return matched[i].Weight.Kind < matched[j].Weight.Kind
		}

		if matched[i].To != matched[j].To {
			return matched[i].To < matched[j].To
		}

		return matched[i].From < matched[j].From
	})

	return matched
}

// AddNode inserts a node into the arena. The node is unreachable until
// an edge points at it.
func (g *Graph) AddNode(n *Node) error {
	if _, exists := g.nodes[n.ID]; exists {
		return pkg.ValidateBusinessError(cn.ErrDuplicateNode, "node", n.ID)
	}

	if n.LineageID == "" {
		n.LineageID = n.ID
	}

	g.nodes[n.ID] = n
	g.dirty = true

	return nil
}

// AddEdge connects from → to. Duplicate (from, kind, to) edges are
// no-ops; cycle-forbidding kinds are checked before insertion.
func (g *Graph) AddEdge(from, to ID, weight EdgeWeight) error {
	if _, ok := g.nodes[from]; !ok {
		return pkg.ValidateBusinessError(cn.ErrNodeNotFound, "node", from)
	}

	if _, ok := g.nodes[to]; !ok {
		return pkg.ValidateBusinessError(cn.ErrNodeNotFound, "node", to)
	}

	if g.hasEdge(from, to, weight.Kind) {
		return nil
	}

	if weight.Kind.forbidsCycles() && g.pathExists(to, from, weight.Kind) {
		return pkg.ValidateBusinessError(cn.ErrCycleForbidden, "edge", weight.Kind)
	}

	e := Edge{From: from, To: to, Weight: weight}
	g.out[from] = append(g.out[from], e)
	g.in[to] = append(g.in[to], e)
	g.dirty = true

	return nil
}

// RemoveEdge removes the (from, kind, to) edge. Removing an absent edge
// is a no-op.
func (g *Graph) RemoveEdge(from, to ID, kind EdgeKind) {
	removed := false

	g.out[from], removed = dropEdge(g.out[from], from, to, kind)
	if removed {
		g.in[to], _ = dropEdge(g.in[to], from, to, kind)
		g.dirty = true
	}
}

func dropEdge(edges []Edge, from, to ID, kind EdgeKind) ([]Edge, bool) {
	for i, e := range edges {
		if e.From == from && e.To == to && e.Weight.Kind == kind {
			return append(edges[:i:i], edges[i+1:]...), true
		}
	}

	return edges, false
}

// RemoveNode drops the node and every incident edge, so no dangling
// references remain.
func (g *Graph) RemoveNode(id ID) {
	if _, ok := g.nodes[id]; !ok {
		return
	}

	for _, e := range g.out[id] {
		g.in[e.To], _ = dropEdge(g.in[e.To], e.From, e.To, e.Weight.Kind)
	}

	for _, e := range g.in[id] {
		g.out[e.From], _ = dropEdge(g.out[e.From], e.From, e.To, e.Weight.Kind)
	}

	delete(g.out, id)
	delete(g.in, id)
	delete(g.nodes, id)
	g.dirty = true
}

// ReplaceNodeContent swaps the node's weight for a new one, keeping id
// and lineage.
func (g *Graph) ReplaceNodeContent(id ID, weight NodeWeight) error {
	n, ok := g.nodes[id]
	if !ok {
		return pkg.ValidateBusinessError(cn.ErrNodeNotFound, "node", id)
	}

	n.Weight = weight
	g.dirty = true

	return nil
}

// CategoryNode finds the singleton category node of the given kind.
func (g *Graph) CategoryNode(kind CategoryKind) (ID, bool) {
	for _, e := range g.out[g.root] {
		n, ok := g.nodes[e.To]
		if !ok {
			continue
		}

		if cw, isCat := n.Weight.(CategoryWeight); isCat && cw.Category == kind {
			return n.ID, true
		}
	}

	return "", false
}

// EnsureCategory returns the category node of the given kind, creating
// it under the root when absent.
func (g *Graph) EnsureCategory(kind CategoryKind) (ID, error) {
	if id, ok := g.CategoryNode(kind); ok {
		return id, nil
	}

	id := NewID()

	if err := g.AddNode(&Node{ID: id, LineageID: id, Weight: CategoryWeight{Category: kind}}); err != nil {
		return "", err
	}

	if err := g.AddEdge(g.root, id, EdgeWeight{Kind: EdgeKindUse}); err != nil {
		return "", err
	}

	return id, nil
}

// NodesByKind enumerates reachable nodes of one kind, sorted by id.
func (g *Graph) NodesByKind(kind NodeKind) []*Node {
	var matched []*Node

	for id := range g.reachable() {
		n := g.nodes[id]
		if n.Weight.Kind() == kind {
			matched = append(matched, n)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return matched
}

// Copy deep-copies the graph, preserving every id and lineage id. Used
// when forking a change set's working copy.
func (g *Graph) Copy() *Graph {
	dup := &Graph{
		root:  g.root,
		nodes: make(map[ID]*Node, len(g.nodes)),
		out:   make(map[ID][]Edge, len(g.out)),
		in:    make(map[ID][]Edge, len(g.in)),
		dirty: true,
	}

	for id, n := range g.nodes {
		clone := *n
		dup.nodes[id] = &clone
	}

	for id, edges := range g.out {
		dup.out[id] = append([]Edge(nil), edges...)
	}

	for id, edges := range g.in {
		dup.in[id] = append([]Edge(nil), edges...)
	}

	return dup
}

func (g *Graph) hasEdge(from, to ID, kind EdgeKind) bool {
	for _, e := range g.out[from] {
		if e.To == to && e.Weight.Kind == kind {
			return true
		}
	}

	return false
}

// pathExists reports whether to is reachable from from over edges of
// the given kind.
func (g *Graph) pathExists(from, to ID, kind EdgeKind) bool {
	if from == to {
		return true
	}

	seen := map[ID]bool{from: true}
	stack := []ID{from}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, e := range g.out[current] {
			if e.Weight.Kind != kind || seen[e.To] {
				continue
			}

			if e.To == to {
				return true
			}

			seen[e.To] = true
			stack = append(stack, e.To)
		}
	}

	return false
}

// reachable returns the id set reachable from the root.
func (g *Graph) reachable() map[ID]struct{} {
	seen := map[ID]struct{}{g.root: {}}
	stack := []ID{g.root}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, e := range g.out[current] {
			if _, ok := seen[e.To]; ok {
				continue
			}

			seen[e.To] = struct{}{}
			stack = append(stack, e.To)
		}
	}

	return seen
}
