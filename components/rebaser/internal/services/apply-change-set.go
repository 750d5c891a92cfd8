package services

import (
	"context"
	"encoding/json"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	"github.com/google/uuid"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/mmodel"
)

// ApplyChangeSet merges a change set into its workspace's head. The
// approval gate runs first; then the change set's delta against its
// fork base is three-way merged onto head (a fast-forward when head
// has not moved), head's branch pointer swaps, the change set is marked
// Applied and its queued actions are re-homed for dispatch.
//
// Re-applying an Applied change set is a no-op returning the change set
// unchanged.
func (uc *UseCase) ApplyChangeSet(ctx context.Context, changeSetID string) (*mmodel.ChangeSet, error) {
	logger := libCommons.NewLoggerFromContext(ctx)
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.apply_change_set")
	defer span.End()

	cs, err := uc.ChangeSetRepo.Find(ctx, changeSetID)
	if err != nil {
		return nil, err
	}

	if cs.Status == constant.ChangeSetStatusApplied {
		return cs, nil
	}

	if cs.Status == constant.ChangeSetStatusAbandoned {
		return nil, pkg.ValidateBusinessError(constant.ErrChangeSetNotOpen, "change set", cs.ID)
	}

	if cs.IsHead() {
		return nil, pkg.ValidateBusinessError(constant.ErrHeadChangeSetImmutable, "change set", cs.ID)
	}

	if err := uc.EvaluateApprovals(ctx, cs); err != nil {
		return nil, err
	}

	ws, err := uc.WorkspaceRepo.Find(ctx, cs.WorkspaceID)
	if err != nil {
		return nil, err
	}

	head, err := uc.ChangeSetRepo.Find(ctx, ws.DefaultChangeSetID)
	if err != nil {
		return nil, err
	}

	headMoved := head.SnapshotAddress != cs.BaseSnapshotAddress

	if head.SnapshotAddress == cs.SnapshotAddress {
		// Nothing diverged: the apply is pure bookkeeping and no view
		// rebuild or action dispatch is warranted.
		cs, err = uc.ChangeSetRepo.UpdateStatus(ctx, cs.ID, constant.ChangeSetStatusApplied)
		if err != nil {
			return nil, err
		}

		uc.appendAudit(ctx, cs.WorkspaceID, cs.ID, "change_set.applied", map[string]any{
			"head_snapshot_address": head.SnapshotAddress,
			"no_op":                 true,
		})

		return cs, nil
	}

	if headMoved {
		// Head advanced since the fork: re-apply the change set's delta
		// onto head through the same merge machinery rebases use.
		req := &mmodel.RebaseRequest{
			ID:                  uuid.New().String(),
			WorkspaceID:         ws.ID,
			ChangeSetID:         head.ID,
			FromSnapshotAddress: cs.BaseSnapshotAddress,
			ToSnapshotAddress:   &cs.SnapshotAddress,
		}

		head, err = uc.rebaseOnce(ctx, head, req, true)
		if err != nil {
			libOpentelemetry.HandleSpanError(&span, "Failed to merge change set onto head", err)

			return nil, err
		}
	} else {
		// Fast-forward: head takes the change set's snapshot as-is.
		swapped, err := uc.ChangeSetRepo.SwapSnapshotAddress(ctx, head.ID, head.SnapshotAddress, cs.SnapshotAddress)
		if err != nil {
			return nil, err
		}

		if !swapped {
			return nil, pkg.ValidateBusinessError(constant.ErrStaleBaseline, "change set",
				head.ID, head.SnapshotAddress, cs.SnapshotAddress)
		}

		head.SnapshotAddress = cs.SnapshotAddress

		uc.publishChangeSetUpdated(ctx, head)
	}

	cs, err = uc.ChangeSetRepo.UpdateStatus(ctx, cs.ID, constant.ChangeSetStatusApplied)
	if err != nil {
		return nil, err
	}

	uc.appendAudit(ctx, cs.WorkspaceID, cs.ID, "change_set.applied", map[string]any{
		"head_snapshot_address": head.SnapshotAddress,
	})

	uc.publishChangeSetApplied(ctx, cs, head)

	logger.Infof("Change set %s applied, head now at %s", cs.ID, head.SnapshotAddress)

	return cs, nil
}

// AbandonChangeSet ends a change set without merging: it moves the
// status to Abandoned and records an audit entry. Nothing is published,
// so the change set's queued actions are never re-homed onto head. A
// dependent-value run already in progress is not interrupted; the
// status is checked only when a run starts.
func (uc *UseCase) AbandonChangeSet(ctx context.Context, changeSetID string) (*mmodel.ChangeSet, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.abandon_change_set")
	defer span.End()

	cs, err := uc.ChangeSetRepo.Find(ctx, changeSetID)
	if err != nil {
		return nil, err
	}

	if cs.IsHead() {
		return nil, pkg.ValidateBusinessError(constant.ErrHeadChangeSetImmutable, "change set", cs.ID)
	}

	if cs.Status.IsTerminal() {
		return nil, pkg.ValidateBusinessError(constant.ErrChangeSetNotOpen, "change set", cs.ID)
	}

	cs, err = uc.ChangeSetRepo.UpdateStatus(ctx, cs.ID, constant.ChangeSetStatusAbandoned)
	if err != nil {
		return nil, err
	}

	uc.appendAudit(ctx, cs.WorkspaceID, cs.ID, "change_set.abandoned", nil)

	return cs, nil
}

// publishChangeSetApplied tells the executor to re-home the applied
// change set's queued actions onto head and dispatch the eligible ones.
func (uc *UseCase) publishChangeSetApplied(ctx context.Context, cs, head *mmodel.ChangeSet) {
	logger := libCommons.NewLoggerFromContext(ctx)

	payload := map[string]any{
		"workspaceId":       cs.WorkspaceID,
		"appliedChangeSet":  cs.ID,
		"headChangeSet":     head.ID,
		"headSnapshot":      head.SnapshotAddress,
		"appliedAt":         time.Now().UTC(),
		"originatingChange": cs.ID,
	}

	envelope, err := mmodel.NewEnvelope(uuid.New().String(), mmodel.MessageKindChangeSetApplied, payload)
	if err != nil {
		logger.Errorf("Failed to build change-set-applied envelope: %v", err)

		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		logger.Errorf("Failed to marshal change-set-applied envelope: %v", err)

		return
	}

	if _, err := uc.Producer.ProducerDefault(ctx, constant.ExchangeName,
		constant.SubjectJobs(cs.WorkspaceID, head.ID), body); err != nil {
		logger.Errorf("Failed to publish change-set-applied for %s: %v", cs.ID, err)
	}
}
