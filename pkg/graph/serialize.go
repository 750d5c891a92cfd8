package graph

import (
	"bytes"
	"context"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	cn "github.com/weftworks/loom/pkg/constant"
)

// BlobStore is the slice of the content-addressed store the graph
// needs. *cas.Layered satisfies it.
type BlobStore interface {
	Put(ctx context.Context, value []byte) (cas.Hash, error)
	Get(ctx context.Context, hash cas.Hash) ([]byte, bool, error)
}

type serializedNode struct {
	ID        ID             `msgpack:"id"`
	LineageID ID             `msgpack:"lineageId"`
	Weight    weightEnvelope `msgpack:"weight"`
}

type serializedGraph struct {
	Root  ID               `msgpack:"root"`
	Nodes []serializedNode `msgpack:"nodes"`
	Edges []Edge           `msgpack:"edges"`
}

// canonicalMarshal is deterministic msgpack: sorted map keys, no
// struct-name metadata. Canonical bytes are what make addresses stable.
func canonicalMarshal(v any) (msgpack.RawMessage, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// serializeBytes renders the reachable subgraph in canonical form.
// Unreachable nodes are garbage-collected here: they are simply not
// written.
func (g *Graph) serializeBytes() ([]byte, error) {
	reachable := g.reachable()

	doc := serializedGraph{Root: g.root}

	for id := range reachable {
		n := g.nodes[id]

		env, err := encodeWeight(n.Weight)
		if err != nil {
			return nil, err
		}

		doc.Nodes = append(doc.Nodes, serializedNode{ID: n.ID, LineageID: n.LineageID, Weight: env})

		doc.Edges = append(doc.Edges, g.Outgoing(id, "")...)
	}

	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })
	sort.Slice(doc.Edges, func(i, j int) bool {
		a, b := doc.Edges[i], doc.Edges[j]

		if a.From != b.From {
			return a.From < b.From
		}

		if a.Weight.Kind != b.Weight.Kind {
			return a.Weight.Kind < b.Weight.Kind
		}

		return a.To < b.To
	})

	return cas.Encode(doc)
}

// Address returns the snapshot address: the content hash of the
// canonical serialized graph. Two graphs with the same reachable
// content share an address regardless of mutation history.
func (g *Graph) Address() (cas.Hash, error) {
	encoded, err := g.serializeBytes()
	if err != nil {
		return cas.ZeroHash, err
	}

	return cas.HashBytes(encoded), nil
}

// Serialize writes the reachable subgraph to the store and returns its
// snapshot address.
func (g *Graph) Serialize(ctx context.Context, store BlobStore) (cas.Hash, error) {
	encoded, err := g.serializeBytes()
	if err != nil {
		return cas.ZeroHash, err
	}

	return store.Put(ctx, encoded)
}

// Load reads the graph at the given snapshot address.
func Load(ctx context.Context, store BlobStore, address cas.Hash) (*Graph, error) {
	encoded, found, err := store.Get(ctx, address)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, pkg.ValidateBusinessError(cn.ErrSnapshotNotFound, "snapshot", address)
	}

	var doc serializedGraph

	if err := cas.Decode(encoded, &doc); err != nil {
		return nil, err
	}

	g := &Graph{
		root:  doc.Root,
		nodes: make(map[ID]*Node, len(doc.Nodes)),
		out:   make(map[ID][]Edge),
		in:    make(map[ID][]Edge),
		dirty: true,
	}

	for _, sn := range doc.Nodes {
		weight, err := decodeWeight(sn.Weight)
		if err != nil {
			return nil, err
		}

		g.nodes[sn.ID] = &Node{ID: sn.ID, LineageID: sn.LineageID, Weight: weight}
	}

	for _, e := range doc.Edges {
		g.out[e.From] = append(g.out[e.From], e)
		g.in[e.To] = append(g.in[e.To], e)
	}

	if _, err := g.ComputeMerkle(); err != nil {
		return nil, err
	}

	return g, nil
}
