package graph

import (
	"github.com/weftworks/loom/pkg/cas"
)

// nodeHashInput is the canonical preimage of a node's own hash.
type nodeHashInput struct {
	ID        ID             `msgpack:"id"`
	LineageID ID             `msgpack:"lineageId"`
	Weight    weightEnvelope `msgpack:"weight"`
}

// nodeHash digests the node itself, independent of its children.
func nodeHash(n *Node) (cas.Hash, error) {
	env, err := encodeWeight(n.Weight)
	if err != nil {
		return cas.ZeroHash, err
	}

	return cas.HashValue(nodeHashInput{ID: n.ID, LineageID: n.LineageID, Weight: env})
}

// ComputeMerkle recomputes every reachable node's subtree hash bottom-up
// and returns the root hash. A node's merkle hash covers its own hash
// plus the sorted (edge kind, path, child merkle) tuples below it, so
// equal subtrees compare in O(1) during diffing. Back-edges on legal
// cycles contribute the child's own node hash instead of its subtree
// hash, keeping the computation well-founded.
func (g *Graph) ComputeMerkle() (cas.Hash, error) {
	done := make(map[ID]cas.Hash, len(g.nodes))
	onStack := make(map[ID]bool)

	var visit func(id ID) (cas.Hash, error)

	visit = func(id ID) (cas.Hash, error) {
		if h, ok := done[id]; ok {
			return h, nil
		}

		n := g.nodes[id]

		own, err := nodeHash(n)
		if err != nil {
			return cas.ZeroHash, err
		}

		onStack[id] = true
		defer delete(onStack, id)

		preimage := make([]byte, 0, cas.HashSize*(len(g.out[id])+1))
		preimage = append(preimage, own[:]...)

		for _, e := range g.Outgoing(id, "") {
			var child cas.Hash

			if onStack[e.To] {
				child, err = nodeHash(g.nodes[e.To])
			} else {
				child, err = visit(e.To)
			}

			if err != nil {
				return cas.ZeroHash, err
			}

			preimage = append(preimage, []byte(e.Weight.Kind)...)
			preimage = append(preimage, []byte(e.Weight.Path)...)
			preimage = append(preimage, child[:]...)
		}

		h := cas.HashBytes(preimage)
		done[id] = h
		n.merkle = h

		return h, nil
	}

	rootHash, err := visit(g.root)
	if err != nil {
		return cas.ZeroHash, err
	}

	g.dirty = false

	return rootHash, nil
}

// MerkleRoot returns the root subtree hash, recomputing if any
// mutation happened since the last computation.
func (g *Graph) MerkleRoot() (cas.Hash, error) {
	if g.dirty {
		return g.ComputeMerkle()
	}

	return g.nodes[g.root].merkle, nil
}
