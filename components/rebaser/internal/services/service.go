// Package services implements the change-set lifecycle: rebasing,
// forking, applying with approval gates, abandoning, and the
// dependent-value propagation engine.
package services

import (
	"context"

	"github.com/weftworks/loom/components/rebaser/internal/adapters/http/out"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/approval"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/audit"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/changeset"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/workspace"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/sandbox"
)

// SnapshotStore is the slice of the layered CAS the rebaser needs:
// blob writes, blob reads, and a durability barrier before a new
// snapshot address is published.
type SnapshotStore interface {
	Put(ctx context.Context, value []byte) (cas.Hash, error)
	Get(ctx context.Context, hash cas.Hash) ([]byte, bool, error)
	Flush(ctx context.Context) error
}

// UseCase provides business logic operations for change sets.
type UseCase struct {
	ChangeSetRepo changeset.Repository
	WorkspaceRepo workspace.Repository
	ApprovalRepo  approval.Repository
	AuditRepo     audit.Repository
	PolicyRepo    out.PolicyRepository
	Producer      rabbitmq.ProducerRepository
	Snapshots     SnapshotStore
	Runner        *sandbox.Runner

	// InsertConcurrencyLimit bounds parallel function execution inside
	// one dependent-value run.
	InsertConcurrencyLimit int
}
