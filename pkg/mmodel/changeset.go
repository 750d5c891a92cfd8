package mmodel

import (
	"time"

	"github.com/weftworks/loom/pkg/constant"
)

// ChangeSet is a named branch of the workspace graph. It points at
// exactly one snapshot address at any time; the address history records
// every snapshot the branch has pointed at, newest last.
type ChangeSet struct {
	ID                     string                   `json:"id"`
	WorkspaceID            string                   `json:"workspaceId"`
	BaseChangeSetID        *string                  `json:"baseChangeSetId,omitempty"`
	Name                   string                   `json:"name"`
	Status                 constant.ChangeSetStatus `json:"status"`
	SnapshotAddress        string                   `json:"snapshotAddress"`
	BaseSnapshotAddress    string                   `json:"baseSnapshotAddress"`
	SnapshotAddressHistory []string                 `json:"snapshotAddressHistory,omitempty"`
	CreatedAt              time.Time                `json:"createdAt"`
	UpdatedAt              time.Time                `json:"updatedAt"`
}

// IsHead reports whether the change set is its workspace's baseline.
// Head change sets have no base.
func (c *ChangeSet) IsHead() bool {
	return c.BaseChangeSetID == nil
}

// CreateChangeSetInput is the payload to fork a change set from a base.
type CreateChangeSetInput struct {
	WorkspaceID     string  `json:"workspaceId"`
	Name            string  `json:"name"`
	BaseChangeSetID *string `json:"baseChangeSetId,omitempty"`
}

// RebaseRequest asks the per-change-set worker to land a change batch.
// FromSnapshotAddress is the snapshot the client based its work on.
// ToSnapshotAddress optionally names an already-materialized result;
// when absent, the worker applies the change batch to From to obtain it.
type RebaseRequest struct {
	ID                  string  `json:"id"`
	WorkspaceID         string  `json:"workspaceId"`
	ChangeSetID         string  `json:"changeSetId"`
	FromSnapshotAddress string  `json:"fromSnapshotAddress"`
	ToSnapshotAddress   *string `json:"toSnapshotAddress,omitempty"`
	ChangeBatchAddress  string  `json:"changeBatchAddress"`
}

// ChangeSetUpdated is the notification published after a rebase lands.
type ChangeSetUpdated struct {
	WorkspaceID     string    `json:"workspaceId"`
	ChangeSetID     string    `json:"changeSetId"`
	SnapshotAddress string    `json:"snapshotAddress"`
	At              time.Time `json:"at"`
}
