package mmodel

import (
	"time"

	"github.com/weftworks/loom/pkg/constant"
)

// ApprovalRequirement is the policy attached to an entity: how many
// distinct approvers from the allowed set must sign off before a change
// set touching the entity can be applied.
type ApprovalRequirement struct {
	ID            string   `json:"id"`
	EntityID      string   `json:"entityId"`
	RequiredCount int      `json:"requiredCount"`
	Individuals   []string `json:"individuals,omitempty"`
	Groups        []string `json:"groups,omitempty"`
}

// Approval is one user's vote on a change set, bound by checksum to the
// exact content that was reviewed. A later change invalidates it.
type Approval struct {
	ID            string                  `json:"id"`
	ChangeSetID   string                  `json:"changeSetId"`
	UserID        string                  `json:"userId"`
	RequirementID string                  `json:"requirementId"`
	Checksum      string                  `json:"checksum"`
	Status        constant.ApprovalStatus `json:"status"`
	CreatedAt     time.Time               `json:"createdAt"`
}

// AuditLog is one immutable operational event.
type AuditLog struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspaceId"`
	ChangeSetID *string        `json:"changeSetId,omitempty"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
