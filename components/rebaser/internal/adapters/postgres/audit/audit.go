// Package audit appends immutable operational events.
package audit

import (
	"context"

	"github.com/weftworks/loom/pkg/mmodel"
)

// Repository provides an interface for the append-only audit log.
type Repository interface {
	Create(ctx context.Context, entry *mmodel.AuditLog) error
	FindAllByChangeSet(ctx context.Context, workspaceID, changeSetID string) ([]*mmodel.AuditLog, error)
}
