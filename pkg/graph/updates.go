package graph

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	cn "github.com/weftworks/loom/pkg/constant"
)

// Update is one atomic graph transformation. The set is closed:
// NewEdge, RemoveEdge, ReplaceSubgraph, MergeCategoryNodes.
type Update interface {
	isUpdate()
}

// UpdateNewEdge adds one edge.
type UpdateNewEdge struct {
	From   ID
	To     ID
	Weight EdgeWeight
}

func (UpdateNewEdge) isUpdate() {}

// UpdateRemoveEdge removes one edge. Removing an absent edge is a
// no-op.
type UpdateRemoveEdge struct {
	From ID
	To   ID
	Kind EdgeKind
}

func (UpdateRemoveEdge) isUpdate() {}

// UpdateReplaceSubgraph adds or replaces the given nodes' weights.
// Edges into new nodes arrive as separate NewEdge updates in the same
// batch.
type UpdateReplaceSubgraph struct {
	Nodes []*Node
}

func (UpdateReplaceSubgraph) isUpdate() {}

// UpdateMergeCategoryNodes collapses two category singletons of the
// same kind created independently on either side of a merge: every
// edge of Drop is re-parented onto Keep and Drop is removed.
type UpdateMergeCategoryNodes struct {
	Keep ID
	Drop ID
}

func (UpdateMergeCategoryNodes) isUpdate() {}

// DetectUpdates returns the minimal update list transforming onto into
// g, pruning shared subtrees by merkle equality. Node identity is the
// stable id, so copies of the same snapshot diff in O(differing
// nodes).
func (g *Graph) DetectUpdates(onto *Graph) ([]Update, error) {
	if _, err := g.MerkleRoot(); err != nil {
		return nil, err
	}

	if _, err := onto.MerkleRoot(); err != nil {
		return nil, err
	}

	var updates []Update

	visited := make(map[ID]bool)

	var walk func(id ID) error

	walk = func(id ID) error {
		if visited[id] {
			return nil
		}

		visited[id] = true

		mine := g.nodes[id]

		theirs, exists := onto.nodes[id]
		if !exists {
			updates = append(updates, UpdateReplaceSubgraph{Nodes: []*Node{cloneNode(mine)}})

			for _, e := range g.Outgoing(id, "") {
				if err := walk(e.To); err != nil {
					return err
				}

				updates = append(updates, UpdateNewEdge{From: e.From, To: e.To, Weight: e.Weight})
			}

			return nil
		}

		if mine.merkle == theirs.merkle {
			return nil
		}

		mineHash, err := nodeHash(mine)
		if err != nil {
			return err
		}

		theirsHash, err := nodeHash(theirs)
		if err != nil {
			return err
		}

		if mineHash != theirsHash {
			updates = append(updates, UpdateReplaceSubgraph{Nodes: []*Node{cloneNode(mine)}})
		}

		theirEdges := edgeSet(onto.out[id])

		for _, e := range g.Outgoing(id, "") {
			if err := walk(e.To); err != nil {
				return err
			}

			if !theirEdges[edgeKey(e)] {
				updates = append(updates, UpdateNewEdge{From: e.From, To: e.To, Weight: e.Weight})
			}
		}

		mineEdges := edgeSet(g.out[id])

		for _, e := range onto.Outgoing(id, "") {
			if !mineEdges[edgeKey(e)] {
				updates = append(updates, UpdateRemoveEdge{From: e.From, To: e.To, Kind: e.Weight.Kind})
			}
		}

		return nil
	}

	if err := walk(g.root); err != nil {
		return nil, err
	}

	return updates, nil
}

// ApplyUpdates mutates the graph in batch order. Nodes referenced by a
// NewEdge must exist already, either in the graph or earlier in the
// batch. After the batch lands, every touched node is checked against
// its exclusive-outgoing declarations; a surviving conflict (a batch
// that CorrectTransforms never saw, or one it could not resolve) is
// reported as ExclusiveEdgeMismatch.
func (g *Graph) ApplyUpdates(updates []Update) error {
	touched := make(map[ID]struct{})

	for _, u := range updates {
		switch v := u.(type) {
		case UpdateReplaceSubgraph:
			for _, n := range v.Nodes {
				touched[n.ID] = struct{}{}

				if existing, ok := g.nodes[n.ID]; ok {
					existing.Weight = n.Weight
					existing.LineageID = n.LineageID
					g.dirty = true

					continue
				}

				if err := g.AddNode(cloneNode(n)); err != nil {
					return err
				}
			}
		case UpdateNewEdge:
			if err := g.AddEdge(v.From, v.To, v.Weight); err != nil {
				return err
			}

			touched[v.From] = struct{}{}
		case UpdateRemoveEdge:
			g.RemoveEdge(v.From, v.To, v.Kind)
		case UpdateMergeCategoryNodes:
			if err := g.mergeCategoryNodes(v.Keep, v.Drop); err != nil {
				return err
			}

			touched[v.Keep] = struct{}{}
		default:
			return fmt.Errorf("unknown update type %T", u)
		}
	}

	for id := range touched {
		if err := g.checkExclusiveOutgoing(id); err != nil {
			return err
		}
	}

	return nil
}

// checkExclusiveOutgoing verifies the node holds at most one outgoing
// edge per exclusive kind its weight declares.
func (g *Graph) checkExclusiveOutgoing(id ID) error {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}

	for _, kind := range exclusiveOutgoing(n.Weight.Kind()) {
		if len(g.Outgoing(id, kind)) > 1 {
			return pkg.ValidateBusinessError(cn.ErrExclusiveEdgeMismatch, "node", id, kind)
		}
	}

	return nil
}

// mergeCategoryNodes re-parents every edge of drop onto keep, then
// removes drop. Idempotent when drop is already gone.
func (g *Graph) mergeCategoryNodes(keep, drop ID) error {
	if _, ok := g.nodes[keep]; !ok {
		return pkg.ValidateBusinessError(cn.ErrNodeNotFound, "node", keep)
	}

	if _, ok := g.nodes[drop]; !ok {
		return nil
	}

	for _, e := range append([]Edge(nil), g.out[drop]...) {
		g.RemoveEdge(e.From, e.To, e.Weight.Kind)

		if e.To != keep {
			if err := g.AddEdge(keep, e.To, e.Weight); err != nil {
				return err
			}
		}
	}

	for _, e := range append([]Edge(nil), g.in[drop]...) {
		g.RemoveEdge(e.From, e.To, e.Weight.Kind)

		if e.From != keep {
			if err := g.AddEdge(e.From, keep, e.Weight); err != nil {
				return err
			}
		}
	}

	g.RemoveNode(drop)

	return nil
}

func cloneNode(n *Node) *Node {
	clone := *n

	return &clone
}

func edgeKey(e Edge) string {
	return string(e.Weight.Kind) + "\x00" + e.Weight.Path + "\x00" + string(e.To)
}

func edgeSet(edges []Edge) map[string]bool {
	set := make(map[string]bool, len(edges))

	for _, e := range edges {
		set[edgeKey(e)] = true
	}

	return set
}

// Wire form of a change batch.

type updateEnvelope struct {
	Op      string             `msgpack:"op"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

type newEdgePayload struct {
	From   ID         `msgpack:"from"`
	To     ID         `msgpack:"to"`
	Weight EdgeWeight `msgpack:"weight"`
}

type removeEdgePayload struct {
	From ID       `msgpack:"from"`
	To   ID       `msgpack:"to"`
	Kind EdgeKind `msgpack:"kind"`
}

type replaceSubgraphPayload struct {
	Nodes []serializedNode `msgpack:"nodes"`
}

type mergeCategoryPayload struct {
	Keep ID `msgpack:"keep"`
	Drop ID `msgpack:"drop"`
}

const (
	opNewEdge         = "new_edge"
	opRemoveEdge      = "remove_edge"
	opReplaceSubgraph = "replace_subgraph"
	opMergeCategories = "merge_category_nodes"
)

// WriteChangeBatch persists an ordered update list under its own
// content address.
func WriteChangeBatch(ctx context.Context, store BlobStore, updates []Update) (cas.Hash, error) {
	envelopes := make([]updateEnvelope, 0, len(updates))

	for _, u := range updates {
		var (
			op      string
			payload any
		)

		switch v := u.(type) {
		case UpdateNewEdge:
			op = opNewEdge
			payload = newEdgePayload(v)
		case UpdateRemoveEdge:
			op = opRemoveEdge
			payload = removeEdgePayload(v)
		case UpdateReplaceSubgraph:
			nodes := make([]serializedNode, 0, len(v.Nodes))

			for _, n := range v.Nodes {
				env, err := encodeWeight(n.Weight)
				if err != nil {
					return cas.ZeroHash, err
				}

				nodes = append(nodes, serializedNode{ID: n.ID, LineageID: n.LineageID, Weight: env})
			}

			op = opReplaceSubgraph
			payload = replaceSubgraphPayload{Nodes: nodes}
		case UpdateMergeCategoryNodes:
			op = opMergeCategories
			payload = mergeCategoryPayload(v)
		default:
			return cas.ZeroHash, fmt.Errorf("unknown update type %T", u)
		}

		raw, err := canonicalMarshal(payload)
		if err != nil {
			return cas.ZeroHash, err
		}

		envelopes = append(envelopes, updateEnvelope{Op: op, Payload: raw})
	}

	encoded, err := cas.Encode(envelopes)
	if err != nil {
		return cas.ZeroHash, err
	}

	return store.Put(ctx, encoded)
}

// ReadChangeBatch loads an update list previously written with
// WriteChangeBatch.
func ReadChangeBatch(ctx context.Context, store BlobStore, address cas.Hash) ([]Update, error) {
	encoded, found, err := store.Get(ctx, address)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, pkg.ValidateBusinessError(cn.ErrEntityNotFound, "change batch", address)
	}

	var envelopes []updateEnvelope

	if err := cas.Decode(encoded, &envelopes); err != nil {
		return nil, err
	}

	updates := make([]Update, 0, len(envelopes))

	for _, env := range envelopes {
		switch env.Op {
		case opNewEdge:
			var p newEdgePayload
			if err := msgpack.Unmarshal(env.Payload, &p); err != nil {
				return nil, err
			}

			updates = append(updates, UpdateNewEdge(p))
		case opRemoveEdge:
			var p removeEdgePayload
			if err := msgpack.Unmarshal(env.Payload, &p); err != nil {
				return nil, err
			}

			updates = append(updates, UpdateRemoveEdge(p))
		case opReplaceSubgraph:
			var p replaceSubgraphPayload
			if err := msgpack.Unmarshal(env.Payload, &p); err != nil {
				return nil, err
			}

			nodes := make([]*Node, 0, len(p.Nodes))

			for _, sn := range p.Nodes {
				weight, err := decodeWeight(sn.Weight)
				if err != nil {
					return nil, err
				}

				nodes = append(nodes, &Node{ID: sn.ID, LineageID: sn.LineageID, Weight: weight})
			}

			updates = append(updates, UpdateReplaceSubgraph{Nodes: nodes})
		case opMergeCategories:
			var p mergeCategoryPayload
			if err := msgpack.Unmarshal(env.Payload, &p); err != nil {
				return nil, err
			}

			updates = append(updates, UpdateMergeCategoryNodes(p))
		default:
			return nil, fmt.Errorf("unknown change batch op %q", env.Op)
		}
	}

	return updates, nil
}
