// Package workspace persists the workspace table.
package workspace

import (
	"context"

	"github.com/weftworks/loom/pkg/mmodel"
)

// Repository provides an interface for operations related to workspace
// entities.
type Repository interface {
	Create(ctx context.Context, w *mmodel.Workspace) (*mmodel.Workspace, error)
	Find(ctx context.Context, id string) (*mmodel.Workspace, error)
	SetDefaultChangeSet(ctx context.Context, id, changeSetID string) (*mmodel.Workspace, error)
}
