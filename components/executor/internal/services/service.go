// Package services implements the action engine: enqueueing, the
// per-workspace dispatcher, user state transitions and re-homing on
// apply.
package services

import (
	"time"

	"github.com/weftworks/loom/components/executor/internal/adapters/postgres/action"
	"github.com/weftworks/loom/components/executor/internal/adapters/postgres/changeset"
	"github.com/weftworks/loom/components/executor/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/components/executor/internal/adapters/redis"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/sandbox"
)

// UseCase provides business logic operations for actions.
type UseCase struct {
	ActionRepo    action.Repository
	ChangeSetRepo changeset.Repository
	LockRepo      redis.LockRepository
	Producer      rabbitmq.ProducerRepository
	Snapshots     graph.BlobStore
	Runner        *sandbox.Runner

	// LockTTL guards against a crashed dispatcher holding the workspace
	// mutex forever.
	LockTTL time.Duration
}
