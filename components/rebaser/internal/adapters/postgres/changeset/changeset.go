// Package changeset persists the change-set branch table: one row per
// branch, carrying the current snapshot address and its history.
package changeset

import (
	"context"

	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/mmodel"
)

// Repository provides an interface for operations related to change-set
// entities.
type Repository interface {
	Create(ctx context.Context, cs *mmodel.ChangeSet) (*mmodel.ChangeSet, error)
	Find(ctx context.Context, id string) (*mmodel.ChangeSet, error)
	FindAll(ctx context.Context, workspaceID string) ([]*mmodel.ChangeSet, error)
	UpdateStatus(ctx context.Context, id string, status constant.ChangeSetStatus) (*mmodel.ChangeSet, error)
	// SwapSnapshotAddress moves the branch pointer from expected to next
	// atomically, appending next to the address history. It reports
	// false when the row no longer holds expected.
	SwapSnapshotAddress(ctx context.Context, id, expected, next string) (bool, error)
}
