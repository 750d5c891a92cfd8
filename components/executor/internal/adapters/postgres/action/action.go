// Package action persists the dispatcher's projection of the action
// graph: one row per pending action. Successful actions are removed,
// leaving only their func run behind.
package action

import (
	"context"

	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/mmodel"
)

// Repository provides an interface for operations related to action
// entities.
type Repository interface {
	Create(ctx context.Context, a *mmodel.Action) (*mmodel.Action, error)
	Find(ctx context.Context, id string) (*mmodel.Action, error)
	FindAllByChangeSet(ctx context.Context, workspaceID, changeSetID string) ([]*mmodel.Action, error)
	UpdateState(ctx context.Context, id string, state constant.ActionState) (*mmodel.Action, error)
	SetFuncRun(ctx context.Context, id, funcRunID string) error
	Delete(ctx context.Context, id string) error
	// RehomeQueued moves an applied change set's queued actions onto the
	// head change set and returns how many moved.
	RehomeQueued(ctx context.Context, workspaceID, fromChangeSetID, toChangeSetID string) (int64, error)
}
