package graph

// CorrectTransforms rewrites an update list so it can land safely on
// this graph. Each node-weight family contributes its own rules; today
// those are category-singleton preservation and exclusive-outgoing
// enforcement, plus idempotence filtering. The rewrite runs the same
// way for every provenance: external marks updates that originate from
// a different change set than the one being written and is carried for
// the per-family rules to consult.
//
// Exclusive-edge conflicts resolve last-write-wins: the update being
// applied now beats whatever the graph holds, and within one batch the
// later entry beats the earlier. Because appliers are serialized per
// change set and batch order is stable, the outcome is deterministic;
// across change sets the change set applied last ends up owning the
// edge; change-set ids are not compared. A violation that
// reaches the graph anyway is caught by ApplyUpdates and reported as
// ExclusiveEdgeMismatch.
func (g *Graph) CorrectTransforms(updates []Update, external bool) ([]Update, error) {
	updates = g.redirectCategoryDuplicates(updates)

	corrected := make([]Update, 0, len(updates))

	// Last-write-wins bookkeeping for exclusive kinds within the batch:
	// (source, kind) → index into corrected of the surviving NewEdge.
	exclusiveSeen := make(map[string]int)

	for _, u := range updates {
		switch v := u.(type) {
		case UpdateNewEdge:
			exclusive := g.edgeKindExclusiveFor(v.From, v.Weight.Kind, updates)
			key := string(v.From) + "\x00" + string(v.Weight.Kind)

			if g.hasEdge(v.From, v.To, v.Weight.Kind) {
				// An edge the graph already holds is still re-asserted
				// when an earlier entry of this batch displaced it.
				if _, contested := exclusiveSeen[key]; !exclusive || !contested {
					continue
				}
			}

			if exclusive {
				if prior, ok := exclusiveSeen[key]; ok {
					corrected[prior] = nil
				}

				for _, existing := range g.Outgoing(v.From, v.Weight.Kind) {
					if existing.To != v.To {
						corrected = append(corrected, UpdateRemoveEdge{From: existing.From, To: existing.To, Kind: existing.Weight.Kind})
					}
				}

				exclusiveSeen[key] = len(corrected)
			}

			corrected = append(corrected, v)
		case UpdateRemoveEdge:
			if !g.hasEdge(v.From, v.To, v.Kind) {
				continue
			}

			corrected = append(corrected, v)
		default:
			corrected = append(corrected, u)
		}
	}

	compact := corrected[:0]

	for _, u := range corrected {
		if u != nil {
			compact = append(compact, u)
		}
	}

	return compact, nil
}

// redirectCategoryDuplicates keeps category nodes singleton: when an
// incoming batch introduces a category node whose kind already exists
// here under a different id, the incoming node is dropped and every
// reference to it re-pointed at the survivor. When the graph itself
// holds duplicates (a previous merge raced), an explicit merge update
// is appended, keeping the older node (smaller ULID).
func (g *Graph) redirectCategoryDuplicates(updates []Update) []Update {
	rename := make(map[ID]ID)

	for _, u := range updates {
		rs, ok := u.(UpdateReplaceSubgraph)
		if !ok {
			continue
		}

		for _, n := range rs.Nodes {
			cw, isCat := n.Weight.(CategoryWeight)
			if !isCat {
				continue
			}

			if existing, found := g.CategoryNode(cw.Category); found && existing != n.ID {
				rename[n.ID] = existing
			}
		}
	}

	var out []Update

	for _, u := range updates {
		switch v := u.(type) {
		case UpdateReplaceSubgraph:
			kept := make([]*Node, 0, len(v.Nodes))

			for _, n := range v.Nodes {
				if _, dropped := rename[n.ID]; !dropped {
					kept = append(kept, n)
				}
			}

			if len(kept) > 0 {
				out = append(out, UpdateReplaceSubgraph{Nodes: kept})
			}
		case UpdateNewEdge:
			v.From = renameID(rename, v.From)
			v.To = renameID(rename, v.To)

			out = append(out, v)
		case UpdateRemoveEdge:
			v.From = renameID(rename, v.From)
			v.To = renameID(rename, v.To)

			out = append(out, v)
		case UpdateMergeCategoryNodes:
			v.Keep = renameID(rename, v.Keep)
			v.Drop = renameID(rename, v.Drop)

			if v.Keep != v.Drop {
				out = append(out, v)
			}
		default:
			out = append(out, u)
		}
	}

	out = append(out, g.duplicateCategoryMerges()...)

	return out
}

// duplicateCategoryMerges scans for same-kind category pairs already in
// the graph and emits merges keeping the smaller ULID.
func (g *Graph) duplicateCategoryMerges() []Update {
	byKind := make(map[CategoryKind]ID)

	var merges []Update

	for _, e := range g.Outgoing(g.root, EdgeKindUse) {
		n, ok := g.nodes[e.To]
		if !ok {
			continue
		}

		cw, isCat := n.Weight.(CategoryWeight)
		if !isCat {
			continue
		}

		first, seen := byKind[cw.Category]
		if !seen {
			byKind[cw.Category] = n.ID

			continue
		}

		keep, drop := first, n.ID
		if drop.Less(keep) {
			keep, drop = drop, keep
		}

		byKind[cw.Category] = keep
		merges = append(merges, UpdateMergeCategoryNodes{Keep: keep, Drop: drop})
	}

	return merges
}

// edgeKindExclusiveFor reports whether kind is exclusive for the source
// node, resolving the source's weight kind from the graph or, for nodes
// arriving in the same batch, from the batch itself.
func (g *Graph) edgeKindExclusiveFor(source ID, kind EdgeKind, batch []Update) bool {
	var nodeKind NodeKind

	if n, ok := g.nodes[source]; ok {
		nodeKind = n.Weight.Kind()
	} else {
		for _, u := range batch {
			rs, isReplace := u.(UpdateReplaceSubgraph)
			if !isReplace {
				continue
			}

			for _, n := range rs.Nodes {
				if n.ID == source {
					nodeKind = n.Weight.Kind()
				}
			}
		}
	}

	for _, exclusive := range exclusiveOutgoing(nodeKind) {
		if exclusive == kind {
			return true
		}
	}

	return false
}

func renameID(rename map[ID]ID, id ID) ID {
	if to, ok := rename[id]; ok {
		return to
	}

	return id
}
