package mmodel

import (
	"time"

	"github.com/weftworks/loom/pkg/constant"
)

// Action is a planned side effect against an external system. It lives
// both as a graph node (for merge semantics) and as a dispatch row in
// the relational store (for the dispatcher's bookkeeping). Edges among
// actions mean "must run after"; DependsOn mirrors them for dispatch.
type Action struct {
	ID                     string               `json:"id"`
	WorkspaceID            string               `json:"workspaceId"`
	ChangeSetID            string               `json:"changeSetId"`
	OriginatingChangeSetID string               `json:"originatingChangeSetId"`
	ComponentID            string               `json:"componentId"`
	PrototypeID            string               `json:"prototypeId"`
	Kind                   constant.ActionKind  `json:"kind"`
	State                  constant.ActionState `json:"state"`
	FuncRunID              *string              `json:"funcRunId,omitempty"`
	DependsOn              []string             `json:"dependsOn,omitempty"`
	CreatedAt              time.Time            `json:"createdAt"`
	UpdatedAt              time.Time            `json:"updatedAt"`
}

// ActionResult records the terminal outcome of one dispatched action.
type ActionResult struct {
	ActionID    string    `json:"actionId"`
	FuncRunID   string    `json:"funcRunId"`
	Success     bool      `json:"success"`
	Message     string    `json:"message,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// ActionDispatchRequest is the job message asking the executor to pick
// up eligible actions for a change set.
type ActionDispatchRequest struct {
	WorkspaceID string `json:"workspaceId"`
	ChangeSetID string `json:"changeSetId"`
}
