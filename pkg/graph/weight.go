package graph

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
)

// NodeKind discriminates the node-weight variants. The set is closed:
// adding a kind means updating the weight codec, the merkle hasher and
// the correction dispatch below, which the exhaustive switches enforce.
type NodeKind string

const (
	NodeKindRoot                          NodeKind = "root"
	NodeKindCategory                      NodeKind = "category"
	NodeKindComponent                     NodeKind = "component"
	NodeKindAttributeValue                NodeKind = "attribute_value"
	NodeKindProp                          NodeKind = "prop"
	NodeKindFunc                          NodeKind = "func"
	NodeKindFuncArgument                  NodeKind = "func_argument"
	NodeKindStaticArgumentValue           NodeKind = "static_argument_value"
	NodeKindSchema                        NodeKind = "schema"
	NodeKindSchemaVariant                 NodeKind = "schema_variant"
	NodeKindActionPrototype               NodeKind = "action_prototype"
	NodeKindAction                        NodeKind = "action"
	NodeKindDependentValueRoot            NodeKind = "dependent_value_root"
	NodeKindSecret                        NodeKind = "secret"
	NodeKindView                          NodeKind = "view"
	NodeKindApprovalRequirementDefinition NodeKind = "approval_requirement_definition"
	NodeKindReason                        NodeKind = "reason"
	NodeKindLeafPrototype                 NodeKind = "leaf_prototype"
	NodeKindDiagramObject                 NodeKind = "diagram_object"
	NodeKindModule                        NodeKind = "module"
	NodeKindContent                       NodeKind = "content"
)

// CategoryKind names the process-wide singleton anchors hanging off the
// graph root.
type CategoryKind string

const (
	CategoryComponent           CategoryKind = "component"
	CategoryView                CategoryKind = "view"
	CategoryModule              CategoryKind = "module"
	CategorySchema              CategoryKind = "schema"
	CategoryFunc                CategoryKind = "func"
	CategorySecret              CategoryKind = "secret"
	CategoryAction              CategoryKind = "action"
	CategoryDependentValueRoots CategoryKind = "dependent_value_roots"
)

// NodeWeight is the closed sum over node payloads. ContentHash points
// into the CAS for the heavy part; weights with no external payload
// return the zero hash.
type NodeWeight interface {
	Kind() NodeKind
	ContentHash() cas.Hash
}

// RootWeight anchors the graph. Exactly one per graph.
type RootWeight struct{}

func (RootWeight) Kind() NodeKind        { return NodeKindRoot }
func (RootWeight) ContentHash() cas.Hash { return cas.ZeroHash }

// CategoryWeight is a singleton enumeration anchor per kind.
type CategoryWeight struct {
	Category CategoryKind `msgpack:"category"`
}

func (CategoryWeight) Kind() NodeKind        { return NodeKindCategory }
func (CategoryWeight) ContentHash() cas.Hash { return cas.ZeroHash }

// ComponentWeight is a modeled resource instance.
type ComponentWeight struct {
	ContentAddress cas.Hash `msgpack:"contentAddress"`
	ToDelete       bool     `msgpack:"toDelete"`
}

func (ComponentWeight) Kind() NodeKind          { return NodeKindComponent }
func (w ComponentWeight) ContentHash() cas.Hash { return w.ContentAddress }

// AttributeValueWeight is the current value of one attribute on one
// component. Value holds the post-processing payload address,
// UnprocessedValue the raw function output.
type AttributeValueWeight struct {
	Value            cas.Hash                      `msgpack:"value"`
	UnprocessedValue cas.Hash                      `msgpack:"unprocessedValue"`
	Status           constant.AttributeValueStatus `msgpack:"status"`
}

func (AttributeValueWeight) Kind() NodeKind          { return NodeKindAttributeValue }
func (w AttributeValueWeight) ContentHash() cas.Hash { return w.Value }

// attributeValueWeightV1 predates the Status field. Readers normalize
// it to the current shape with Status Ok.
type attributeValueWeightV1 struct {
	Value            cas.Hash `msgpack:"value"`
	UnprocessedValue cas.Hash `msgpack:"unprocessedValue"`
}

// PropWeight describes one attribute slot of a schema variant.
type PropWeight struct {
	Name           string   `msgpack:"name"`
	PropKind       string   `msgpack:"propKind"`
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (PropWeight) Kind() NodeKind          { return NodeKindProp }
func (w PropWeight) ContentHash() cas.Hash { return w.ContentAddress }

// FuncWeight is a user-defined function definition.
type FuncWeight struct {
	Name        string            `msgpack:"name"`
	FuncKind    constant.FuncKind `msgpack:"funcKind"`
	Handler     string            `msgpack:"handler"`
	CodeAddress cas.Hash          `msgpack:"codeAddress"`
}

func (FuncWeight) Kind() NodeKind          { return NodeKindFunc }
func (w FuncWeight) ContentHash() cas.Hash { return w.CodeAddress }

// FuncArgumentWeight names one declared argument of a function.
type FuncArgumentWeight struct {
	Name           string   `msgpack:"name"`
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (FuncArgumentWeight) Kind() NodeKind          { return NodeKindFuncArgument }
func (w FuncArgumentWeight) ContentHash() cas.Hash { return w.ContentAddress }

// StaticArgumentValueWeight is a constant bound to a prototype argument.
type StaticArgumentValueWeight struct {
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (StaticArgumentValueWeight) Kind() NodeKind          { return NodeKindStaticArgumentValue }
func (w StaticArgumentValueWeight) ContentHash() cas.Hash { return w.ContentAddress }

// SchemaWeight is an asset schema.
type SchemaWeight struct {
	Name           string   `msgpack:"name"`
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (SchemaWeight) Kind() NodeKind          { return NodeKindSchema }
func (w SchemaWeight) ContentHash() cas.Hash { return w.ContentAddress }

// SchemaVariantWeight is one published version of a schema.
type SchemaVariantWeight struct {
	Version        string   `msgpack:"version"`
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (SchemaVariantWeight) Kind() NodeKind          { return NodeKindSchemaVariant }
func (w SchemaVariantWeight) ContentHash() cas.Hash { return w.ContentAddress }

// ActionPrototypeWeight binds an action kind to the function that
// performs it.
type ActionPrototypeWeight struct {
	ActionKind     constant.ActionKind `msgpack:"actionKind"`
	ContentAddress cas.Hash            `msgpack:"contentAddress"`
}

func (ActionPrototypeWeight) Kind() NodeKind          { return NodeKindActionPrototype }
func (w ActionPrototypeWeight) ContentHash() cas.Hash { return w.ContentAddress }

// ActionWeight is a queued action. Use edges between action nodes mean
// the target must succeed before this node may dispatch.
type ActionWeight struct {
	ActionKind             constant.ActionKind  `msgpack:"actionKind"`
	State                  constant.ActionState `msgpack:"state"`
	OriginatingChangeSetID ID                   `msgpack:"originatingChangeSetId"`
	FuncRunID              string               `msgpack:"funcRunId"`
}

func (ActionWeight) Kind() NodeKind        { return NodeKindAction }
func (ActionWeight) ContentHash() cas.Hash { return cas.ZeroHash }

// DependentValueRootWeight marks one attribute value dirty since the
// last propagation run.
type DependentValueRootWeight struct {
	ValueID ID `msgpack:"valueId"`
}

func (DependentValueRootWeight) Kind() NodeKind        { return NodeKindDependentValueRoot }
func (DependentValueRootWeight) ContentHash() cas.Hash { return cas.ZeroHash }

// SecretWeight references encrypted material stored out of band.
type SecretWeight struct {
	Name           string   `msgpack:"name"`
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (SecretWeight) Kind() NodeKind          { return NodeKindSecret }
func (w SecretWeight) ContentHash() cas.Hash { return w.ContentAddress }

// ViewWeight is a named diagram grouping components.
type ViewWeight struct {
	Name           string   `msgpack:"name"`
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (ViewWeight) Kind() NodeKind          { return NodeKindView }
func (w ViewWeight) ContentHash() cas.Hash { return w.ContentAddress }

// ApprovalRequirementDefinitionWeight carries an apply gate: how many
// approvals are needed and who may give them.
type ApprovalRequirementDefinitionWeight struct {
	RequiredCount int      `msgpack:"requiredCount"`
	Individuals   []string `msgpack:"individuals"`
	Groups        []string `msgpack:"groups"`
}

func (ApprovalRequirementDefinitionWeight) Kind() NodeKind {
	return NodeKindApprovalRequirementDefinition
}
func (ApprovalRequirementDefinitionWeight) ContentHash() cas.Hash { return cas.ZeroHash }

// ReasonWeight records why a requirement or hold exists.
type ReasonWeight struct {
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (ReasonWeight) Kind() NodeKind          { return NodeKindReason }
func (w ReasonWeight) ContentHash() cas.Hash { return w.ContentAddress }

// LeafPrototypeWeight binds qualification/codegen leaves to functions.
type LeafPrototypeWeight struct {
	LeafKind       string   `msgpack:"leafKind"`
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (LeafPrototypeWeight) Kind() NodeKind          { return NodeKindLeafPrototype }
func (w LeafPrototypeWeight) ContentHash() cas.Hash { return w.ContentAddress }

// DiagramObjectWeight is a visual-only diagram element.
type DiagramObjectWeight struct {
	ObjectKind     string   `msgpack:"objectKind"`
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (DiagramObjectWeight) Kind() NodeKind          { return NodeKindDiagramObject }
func (w DiagramObjectWeight) ContentHash() cas.Hash { return w.ContentAddress }

// ModuleWeight is an installed module bundle.
type ModuleWeight struct {
	Name           string   `msgpack:"name"`
	Version        string   `msgpack:"version"`
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (ModuleWeight) Kind() NodeKind          { return NodeKindModule }
func (w ModuleWeight) ContentHash() cas.Hash { return w.ContentAddress }

// ContentWeight is an opaque payload holder.
type ContentWeight struct {
	ContentAddress cas.Hash `msgpack:"contentAddress"`
}

func (ContentWeight) Kind() NodeKind          { return NodeKindContent }
func (w ContentWeight) ContentHash() cas.Hash { return w.ContentAddress }

// weightVersion is the current serialized version per kind. Readers
// accept any known version and normalize; writers always emit current.
func weightVersion(kind NodeKind) uint8 {
	if kind == NodeKindAttributeValue {
		return 2
	}

	return 1
}

// weightEnvelope is the stored form of a node weight.
type weightEnvelope struct {
	Kind    NodeKind           `msgpack:"kind"`
	Version uint8              `msgpack:"version"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

func encodeWeight(w NodeWeight) (weightEnvelope, error) {
	payload, err := canonicalMarshal(w)
	if err != nil {
		return weightEnvelope{}, err
	}

	return weightEnvelope{Kind: w.Kind(), Version: weightVersion(w.Kind()), Payload: payload}, nil
}

func decodeWeight(env weightEnvelope) (NodeWeight, error) {
	var target NodeWeight

	switch env.Kind {
	case NodeKindRoot:
		target = &RootWeight{}
	case NodeKindCategory:
		target = &CategoryWeight{}
	case NodeKindComponent:
		target = &ComponentWeight{}
	case NodeKindAttributeValue:
		if env.Version == 1 {
			var v1 attributeValueWeightV1
			if err := msgpack.Unmarshal(env.Payload, &v1); err != nil {
				return nil, err
			}

			return AttributeValueWeight{
				Value:            v1.Value,
				UnprocessedValue: v1.UnprocessedValue,
				Status:           constant.AttributeValueStatusOk,
			}, nil
		}

		target = &AttributeValueWeight{}
	case NodeKindProp:
		target = &PropWeight{}
	case NodeKindFunc:
		target = &FuncWeight{}
	case NodeKindFuncArgument:
		target = &FuncArgumentWeight{}
	case NodeKindStaticArgumentValue:
		target = &StaticArgumentValueWeight{}
	case NodeKindSchema:
		target = &SchemaWeight{}
	case NodeKindSchemaVariant:
		target = &SchemaVariantWeight{}
	case NodeKindActionPrototype:
		target = &ActionPrototypeWeight{}
	case NodeKindAction:
		target = &ActionWeight{}
	case NodeKindDependentValueRoot:
		target = &DependentValueRootWeight{}
	case NodeKindSecret:
		target = &SecretWeight{}
	case NodeKindView:
		target = &ViewWeight{}
	case NodeKindApprovalRequirementDefinition:
		target = &ApprovalRequirementDefinitionWeight{}
	case NodeKindReason:
		target = &ReasonWeight{}
	case NodeKindLeafPrototype:
		target = &LeafPrototypeWeight{}
	case NodeKindDiagramObject:
		target = &DiagramObjectWeight{}
	case NodeKindModule:
		target = &ModuleWeight{}
	case NodeKindContent:
		target = &ContentWeight{}
	default:
		return nil, fmt.Errorf("unknown node weight kind %q", env.Kind)
	}

	if err := msgpack.Unmarshal(env.Payload, target); err != nil {
		return nil, err
	}

	return derefWeight(target), nil
}

// derefWeight returns the value form so weights stay comparable and
// copy-on-assign.
func derefWeight(w NodeWeight) NodeWeight {
	switch v := w.(type) {
	case *RootWeight:
		return *v
	case *CategoryWeight:
		return *v
	case *ComponentWeight:
		return *v
	case *AttributeValueWeight:
		return *v
	case *PropWeight:
		return *v
	case *FuncWeight:
		return *v
	case *FuncArgumentWeight:
		return *v
	case *StaticArgumentValueWeight:
		return *v
	case *SchemaWeight:
		return *v
	case *SchemaVariantWeight:
		return *v
	case *ActionPrototypeWeight:
		return *v
	case *ActionWeight:
		return *v
	case *DependentValueRootWeight:
		return *v
	case *SecretWeight:
		return *v
	case *ViewWeight:
		return *v
	case *ApprovalRequirementDefinitionWeight:
		return *v
	case *ReasonWeight:
		return *v
	case *LeafPrototypeWeight:
		return *v
	case *DiagramObjectWeight:
		return *v
	case *ModuleWeight:
		return *v
	case *ContentWeight:
		return *v
	default:
		return w
	}
}

// exclusiveOutgoing lists the edge kinds a node of the given kind may
// carry at most once. CorrectTransforms rewrites conflicting batches to
// honor it; ApplyUpdates validates it on every touched node and reports
// ExclusiveEdgeMismatch when a conflict survives.
func exclusiveOutgoing(kind NodeKind) []EdgeKind {
	switch kind {
	case NodeKindComponent:
		return []EdgeKind{EdgeKindDefaultView, EdgeKindRepresents}
	case NodeKindAttributeValue:
		return []EdgeKind{EdgeKindPrototype}
	case NodeKindAction:
		return []EdgeKind{EdgeKindActionPrototype}
	case NodeKindSchema:
		return []EdgeKind{EdgeKindOrdering}
	case NodeKindRoot, NodeKindCategory, NodeKindProp, NodeKindFunc, NodeKindFuncArgument,
		NodeKindStaticArgumentValue, NodeKindSchemaVariant, NodeKindActionPrototype,
		NodeKindDependentValueRoot, NodeKindSecret, NodeKindView,
		NodeKindApprovalRequirementDefinition, NodeKindReason, NodeKindLeafPrototype,
		NodeKindDiagramObject, NodeKindModule, NodeKindContent:
		return nil
	default:
		return nil
	}
}
