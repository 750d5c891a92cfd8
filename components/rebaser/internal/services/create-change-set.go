package services

import (
	"context"
	"encoding/json"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	"github.com/google/uuid"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/mmodel"
)

// CreateChangeSet forks a new change set from a base. The fork shares
// the base's snapshot address: snapshots are immutable, so no copy is
// made until the first rebase lands.
func (uc *UseCase) CreateChangeSet(ctx context.Context, input *mmodel.CreateChangeSetInput) (*mmodel.ChangeSet, error) {
	logger := libCommons.NewLoggerFromContext(ctx)
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.create_change_set")
	defer span.End()

	ws, err := uc.WorkspaceRepo.Find(ctx, input.WorkspaceID)
	if err != nil {
		return nil, err
	}

	baseID := ws.DefaultChangeSetID
	if input.BaseChangeSetID != nil {
		baseID = *input.BaseChangeSetID
	}

	base, err := uc.ChangeSetRepo.Find(ctx, baseID)
	if err != nil {
		return nil, err
	}

	if base.Status.IsTerminal() {
		return nil, pkg.ValidateBusinessError(constant.ErrChangeSetNotOpen, "change set", base.ID)
	}

	cs := &mmodel.ChangeSet{
		ID:                  string(graph.NewID()),
		WorkspaceID:         ws.ID,
		BaseChangeSetID:     &base.ID,
		Name:                input.Name,
		Status:              constant.ChangeSetStatusOpen,
		SnapshotAddress:     base.SnapshotAddress,
		BaseSnapshotAddress: base.SnapshotAddress,
	}

	cs, err = uc.ChangeSetRepo.Create(ctx, cs)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to create change set", err)

		logger.Errorf("Failed to create change set: %v", err)

		return nil, err
	}

	uc.appendAudit(ctx, cs.WorkspaceID, cs.ID, "change_set.created", map[string]any{
		"base_change_set_id": base.ID,
		"snapshot_address":   cs.SnapshotAddress,
	})

	uc.publishNewChangeSet(ctx, cs)

	return cs, nil
}

// publishNewChangeSet lets the view builder bootstrap the fork's index
// from its base.
func (uc *UseCase) publishNewChangeSet(ctx context.Context, cs *mmodel.ChangeSet) {
	logger := libCommons.NewLoggerFromContext(ctx)

	envelope, err := mmodel.NewEnvelope(uuid.New().String(), mmodel.MessageKindViewNewChangeSet, cs)
	if err != nil {
		logger.Errorf("Failed to build new-change-set envelope: %v", err)

		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		logger.Errorf("Failed to marshal new-change-set envelope: %v", err)

		return
	}

	if _, err := uc.Producer.ProducerDefault(ctx, constant.ExchangeName,
		constant.SubjectViewNewChangeSet(cs.WorkspaceID, cs.ID), body); err != nil {
		logger.Errorf("Failed to publish new-change-set for %s: %v", cs.ID, err)
	}
}
