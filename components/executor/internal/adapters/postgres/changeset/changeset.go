// Package changeset gives the executor read access to change-set rows;
// the rebaser owns every write.
package changeset

import (
	"context"

	"github.com/weftworks/loom/pkg/mmodel"
)

// Repository provides read-only change-set lookups.
type Repository interface {
	Find(ctx context.Context, id string) (*mmodel.ChangeSet, error)
}
