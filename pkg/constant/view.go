package constant

// ViewKind identifies one materialized-view family. The value is the
// reference kind used on the wire and in the view store.
type ViewKind string

const (
	ViewKindComponentList              ViewKind = "component_list"
	ViewKindComponentDetail            ViewKind = "component_detail"
	ViewKindActionViewList             ViewKind = "action_view_list"
	ViewKindSchemaVariantList          ViewKind = "schema_variant_list"
	ViewKindDependentValueComponentLst ViewKind = "dependent_value_component_list"
	ViewKindViewComponentList          ViewKind = "view_component_list"
	ViewKindErasedComponents           ViewKind = "erased_components"
	ViewKindApprovalStatus             ViewKind = "approval_status"
	ViewKindMvIndex                    ViewKind = "mv_index"
)
