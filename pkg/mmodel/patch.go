package mmodel

import (
	"encoding/json"
	"time"

	"github.com/weftworks/loom/pkg/constant"
)

// ViewPatch is one RFC 6902 delta moving a materialized view from one
// checksum to the next.
type ViewPatch struct {
	Kind         constant.ViewKind `json:"kind"`
	ID           string            `json:"id"`
	FromChecksum string            `json:"fromChecksum"`
	ToChecksum   string            `json:"toChecksum"`
	Patch        json.RawMessage   `json:"patch"`
}

// PatchBatch groups the view patches produced by one rebuild pass.
type PatchBatch struct {
	WorkspaceID string      `json:"workspaceId"`
	ChangeSetID string      `json:"changeSetId"`
	Patches     []ViewPatch `json:"patches"`
	EmittedAt   time.Time   `json:"emittedAt"`
}

// IndexEntry pins one view id of one kind to its current checksum.
type IndexEntry struct {
	Kind     constant.ViewKind `json:"kind"`
	ID       string            `json:"id"`
	Checksum string            `json:"checksum"`
}

// IndexUpdate announces a new per-change-set view index. Joining
// clients fetch the index, then each referenced view from the view
// store by (kind, id, checksum).
type IndexUpdate struct {
	WorkspaceID string       `json:"workspaceId"`
	ChangeSetID string       `json:"changeSetId"`
	Entries     []IndexEntry `json:"entries"`
	EmittedAt   time.Time    `json:"emittedAt"`
}
