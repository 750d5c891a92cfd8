package services

import (
	"context"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"

	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/mmodel"
)

// GetChangeSet retrieves a change set by id.
func (uc *UseCase) GetChangeSet(ctx context.Context, id string) (*mmodel.ChangeSet, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.get_change_set")
	defer span.End()

	return uc.ChangeSetRepo.Find(ctx, id)
}

// ListChangeSets lists a workspace's change sets.
func (uc *UseCase) ListChangeSets(ctx context.Context, workspaceID string) ([]*mmodel.ChangeSet, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.list_change_sets")
	defer span.End()

	return uc.ChangeSetRepo.FindAll(ctx, workspaceID)
}

// GetSnapshot loads the graph a change set currently points at. Callers
// get their own copy; the rebase worker's working copy is never shared.
func (uc *UseCase) GetSnapshot(ctx context.Context, changeSetID string) (*graph.Graph, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.get_snapshot")
	defer span.End()

	cs, err := uc.ChangeSetRepo.Find(ctx, changeSetID)
	if err != nil {
		return nil, err
	}

	address, err := cas.ParseHash(cs.SnapshotAddress)
	if err != nil {
		return nil, err
	}

	return graph.Load(ctx, uc.Snapshots, address)
}
