// Package approval persists change-set approval votes.
package approval

import (
	"context"

	"github.com/weftworks/loom/pkg/mmodel"
)

// Repository provides an interface for operations related to approval
// records.
type Repository interface {
	Create(ctx context.Context, approval *mmodel.Approval) (*mmodel.Approval, error)
	FindAllByChangeSet(ctx context.Context, changeSetID string) ([]*mmodel.Approval, error)
}
