// Package services implements the materialized-view builder: trigger
// matching, rebuilds, patch emission and the per-change-set index.
package services

import (
	"sort"

	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/graph"
)

// Definition declares one view family: what invalidates it, how it
// ranks against other rebuilds, and how to derive every instance from a
// snapshot. Build returns the full set of (view id → body) pairs; the
// builder diffs them against the stored versions.
type Definition struct {
	Kind            constant.ViewKind
	BuildPriority   int
	TriggerEntities []graph.NodeKind
	Build           func(g *graph.Graph) (map[string]any, error)
}

// Triggered reports whether any changed node kind invalidates the view.
func (d Definition) Triggered(changed map[graph.NodeKind]bool) bool {
	for _, kind := range d.TriggerEntities {
		if changed[kind] {
			return true
		}
	}

	return false
}

type componentSummary struct {
	ID        string `json:"id"`
	LineageID string `json:"lineageId"`
	ToDelete  bool   `json:"toDelete"`
}

type attributeValueSummary struct {
	ID     string                        `json:"id"`
	Status constant.AttributeValueStatus `json:"status"`
}

type componentDetail struct {
	ID              string                  `json:"id"`
	ContentAddress  string                  `json:"contentAddress"`
	DefaultViewID   string                  `json:"defaultViewId,omitempty"`
	ToDelete        bool                    `json:"toDelete"`
	AttributeValues []attributeValueSummary `json:"attributeValues"`
}

type actionSummary struct {
	ID          string               `json:"id"`
	Kind        constant.ActionKind  `json:"kind"`
	State       constant.ActionState `json:"state"`
	FuncRunID   string               `json:"funcRunId,omitempty"`
	Originating string               `json:"originatingChangeSetId"`
}

type schemaVariantSummary struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

type requirementSummary struct {
	ID            string   `json:"id"`
	EntityID      string   `json:"entityId"`
	RequiredCount int      `json:"requiredCount"`
	Individuals   []string `json:"individuals,omitempty"`
	Groups        []string `json:"groups,omitempty"`
}

// aggregate is the well-known view id of list views that exist once per
// change set.
const aggregate = "all"

// Definitions returns every registered view family in build-priority
// order. Adding a view kind means adding an entry here and a constant
// in pkg/constant.
func Definitions() []Definition {
	defs := []Definition{
		{
			Kind:            constant.ViewKindComponentList,
			BuildPriority:   0,
			TriggerEntities: []graph.NodeKind{graph.NodeKindComponent, graph.NodeKindCategory},
			Build:           buildComponentList,
		},
		{
			Kind:            constant.ViewKindComponentDetail,
			BuildPriority:   1,
			TriggerEntities: []graph.NodeKind{graph.NodeKindComponent, graph.NodeKindAttributeValue, graph.NodeKindView},
			Build:           buildComponentDetails,
		},
		{
			Kind:            constant.ViewKindActionViewList,
			BuildPriority:   2,
			TriggerEntities: []graph.NodeKind{graph.NodeKindAction, graph.NodeKindActionPrototype},
			Build:           buildActionViewList,
		},
		{
			Kind:            constant.ViewKindSchemaVariantList,
			BuildPriority:   3,
			TriggerEntities: []graph.NodeKind{graph.NodeKindSchema, graph.NodeKindSchemaVariant},
			Build:           buildSchemaVariantList,
		},
		{
			Kind:            constant.ViewKindDependentValueComponentLst,
			BuildPriority:   4,
			TriggerEntities: []graph.NodeKind{graph.NodeKindDependentValueRoot, graph.NodeKindAttributeValue},
			Build:           buildDependentValueComponentList,
		},
		{
			Kind:            constant.ViewKindViewComponentList,
			BuildPriority:   5,
			TriggerEntities: []graph.NodeKind{graph.NodeKindView, graph.NodeKindComponent, graph.NodeKindDiagramObject},
			Build:           buildViewComponentLists,
		},
		{
			Kind:            constant.ViewKindErasedComponents,
			BuildPriority:   6,
			TriggerEntities: []graph.NodeKind{graph.NodeKindComponent},
			Build:           buildErasedComponents,
		},
		{
			Kind:            constant.ViewKindApprovalStatus,
			BuildPriority:   7,
			TriggerEntities: []graph.NodeKind{graph.NodeKindApprovalRequirementDefinition},
			Build:           buildApprovalStatus,
		},
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].BuildPriority < defs[j].BuildPriority })

	return defs
}

func buildComponentList(g *graph.Graph) (map[string]any, error) {
	var components []componentSummary

	for _, n := range g.NodesByKind(graph.NodeKindComponent) {
		w := n.Weight.(graph.ComponentWeight)

		components = append(components, componentSummary{
			ID:        string(n.ID),
			LineageID: string(n.LineageID),
			ToDelete:  w.ToDelete,
		})
	}

	return map[string]any{aggregate: map[string]any{"components": components}}, nil
}

func buildComponentDetails(g *graph.Graph) (map[string]any, error) {
	views := make(map[string]any)

	for _, n := range g.NodesByKind(graph.NodeKindComponent) {
		w := n.Weight.(graph.ComponentWeight)

		detail := componentDetail{
			ID:             string(n.ID),
			ContentAddress: w.ContentAddress.String(),
			ToDelete:       w.ToDelete,
		}

		if edges := g.Outgoing(n.ID, graph.EdgeKindDefaultView); len(edges) > 0 {
			detail.DefaultViewID = string(edges[0].To)
		}

		for _, e := range g.Outgoing(n.ID, graph.EdgeKindContain) {
			child, ok := g.GetNode(e.To)
			if !ok {
				continue
			}

			if av, isValue := child.Weight.(graph.AttributeValueWeight); isValue {
				detail.AttributeValues = append(detail.AttributeValues, attributeValueSummary{
					ID:     string(child.ID),
					Status: av.Status,
				})
			}
		}

		views[string(n.ID)] = detail
	}

	return views, nil
}

func buildActionViewList(g *graph.Graph) (map[string]any, error) {
	var actions []actionSummary

	for _, n := range g.NodesByKind(graph.NodeKindAction) {
		w := n.Weight.(graph.ActionWeight)

		actions = append(actions, actionSummary{
			ID:          string(n.ID),
			Kind:        w.ActionKind,
			State:       w.State,
			FuncRunID:   w.FuncRunID,
			Originating: string(w.OriginatingChangeSetID),
		})
	}

	return map[string]any{aggregate: map[string]any{"actions": actions}}, nil
}

func buildSchemaVariantList(g *graph.Graph) (map[string]any, error) {
	var variants []schemaVariantSummary

	for _, n := range g.NodesByKind(graph.NodeKindSchemaVariant) {
		w := n.Weight.(graph.SchemaVariantWeight)

		variants = append(variants, schemaVariantSummary{
			ID:      string(n.ID),
			Version: w.Version,
		})
	}

	return map[string]any{aggregate: map[string]any{"schemaVariants": variants}}, nil
}

func buildDependentValueComponentList(g *graph.Graph) (map[string]any, error) {
	componentSet := make(map[string]bool)

	for _, valueID := range g.DirtyValueIDs() {
		for _, e := range g.Incoming(valueID, graph.EdgeKindContain) {
			parent, ok := g.GetNode(e.From)
			if !ok {
				continue
			}

			if parent.Weight.Kind() == graph.NodeKindComponent {
				componentSet[string(parent.ID)] = true
			}
		}
	}

	components := make([]string, 0, len(componentSet))

	for id := range componentSet {
		components = append(components, id)
	}

	sort.Strings(components)

	return map[string]any{aggregate: map[string]any{"componentIds": components}}, nil
}

func buildViewComponentLists(g *graph.Graph) (map[string]any, error) {
	views := make(map[string]any)

	for _, viewNode := range g.NodesByKind(graph.NodeKindView) {
		var members []string

		for _, e := range g.Incoming(viewNode.ID, graph.EdgeKindDefaultView) {
			members = append(members, string(e.From))
		}

		sort.Strings(members)

		views[string(viewNode.ID)] = map[string]any{"componentIds": members}
	}

	return views, nil
}

func buildErasedComponents(g *graph.Graph) (map[string]any, error) {
	var erased []string

	for _, n := range g.NodesByKind(graph.NodeKindComponent) {
		if n.Weight.(graph.ComponentWeight).ToDelete {
			erased = append(erased, string(n.ID))
		}
	}

	return map[string]any{aggregate: map[string]any{"componentIds": erased}}, nil
}

func buildApprovalStatus(g *graph.Graph) (map[string]any, error) {
	var requirements []requirementSummary

	for _, n := range g.NodesByKind(graph.NodeKindApprovalRequirementDefinition) {
		w := n.Weight.(graph.ApprovalRequirementDefinitionWeight)

		summary := requirementSummary{
			ID:            string(n.ID),
			RequiredCount: w.RequiredCount,
			Individuals:   w.Individuals,
			Groups:        w.Groups,
		}

		if edges := g.Outgoing(n.ID, graph.EdgeKindRequirement); len(edges) > 0 {
			summary.EntityID = string(edges[0].To)
		}

		requirements = append(requirements, summary)
	}

	return map[string]any{aggregate: map[string]any{"requirements": requirements}}, nil
}
