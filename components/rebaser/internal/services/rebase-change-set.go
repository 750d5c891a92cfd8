package services

import (
	"context"
	"encoding/json"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	"github.com/google/uuid"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/mmodel"
)

// RebaseChangeSet lands one rebase request on its change set. When the
// request's from-address still matches the branch pointer the batch
// applies directly; otherwise the request is treated as a delta and
// three-way merged onto the current snapshot. The first failed attempt
// retries once after reloading; a second failure quarantines the
// change set.
func (uc *UseCase) RebaseChangeSet(ctx context.Context, req *mmodel.RebaseRequest) (*mmodel.ChangeSet, error) {
	logger := libCommons.NewLoggerFromContext(ctx)
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.rebase_change_set")
	defer span.End()

	cs, err := uc.ChangeSetRepo.Find(ctx, req.ChangeSetID)
	if err != nil {
		return nil, err
	}

	if cs.Status == constant.ChangeSetStatusQuarantined {
		return nil, pkg.ValidateBusinessError(constant.ErrChangeSetQuarantined, "change set", cs.ID)
	}

	if !cs.Status.IsMutable() {
		return nil, pkg.ValidateBusinessError(constant.ErrChangeSetNotOpen, "change set", cs.ID)
	}

	cs, err = uc.rebaseOnce(ctx, cs, req, false)
	if err == nil {
		return cs, nil
	}

	if pkg.IsBusinessError(err) {
		return nil, err
	}

	logger.Warnf("Rebase %s failed, retrying once: %v", req.ID, err)

	cs, retryErr := uc.ChangeSetRepo.Find(ctx, req.ChangeSetID)
	if retryErr != nil {
		return nil, retryErr
	}

	cs, retryErr = uc.rebaseOnce(ctx, cs, req, false)
	if retryErr == nil {
		return cs, nil
	}

	libOpentelemetry.HandleSpanError(&span, "Rebase failed twice, quarantining change set", retryErr)
	logger.Errorf("Rebase %s failed twice, quarantining change set %s: %v", req.ID, cs.ID, retryErr)

	if _, qErr := uc.ChangeSetRepo.UpdateStatus(ctx, cs.ID, constant.ChangeSetStatusQuarantined); qErr != nil {
		logger.Errorf("Failed to quarantine change set %s: %v", cs.ID, qErr)
	}

	uc.appendAudit(ctx, cs.WorkspaceID, cs.ID, "change_set.quarantined", map[string]any{
		"rebase_request_id": req.ID,
		"error":             retryErr.Error(),
	})

	return nil, pkg.ValidateBusinessError(constant.ErrChangeSetQuarantined, "change set", cs.ID)
}

// rebaseOnce performs one merge attempt. external marks deltas that
// come from a different change set than the one being written (the
// apply path); corrections treat every provenance the same way.
func (uc *UseCase) rebaseOnce(ctx context.Context, cs *mmodel.ChangeSet, req *mmodel.RebaseRequest, external bool) (*mmodel.ChangeSet, error) {
	logger := libCommons.NewLoggerFromContext(ctx)

	fromAddress, err := cas.ParseHash(req.FromSnapshotAddress)
	if err != nil {
		return nil, err
	}

	base, err := graph.Load(ctx, uc.Snapshots, fromAddress)
	if err != nil {
		return nil, err
	}

	incoming, err := uc.loadIncoming(ctx, base, req)
	if err != nil {
		return nil, err
	}

	updates, err := incoming.DetectUpdates(base)
	if err != nil {
		return nil, err
	}

	stale := req.FromSnapshotAddress != cs.SnapshotAddress

	currentAddress, err := cas.ParseHash(cs.SnapshotAddress)
	if err != nil {
		return nil, err
	}

	onto, err := graph.Load(ctx, uc.Snapshots, currentAddress)
	if err != nil {
		return nil, err
	}

	corrected, err := onto.CorrectTransforms(updates, external || stale)
	if err != nil {
		return nil, uc.staleOrFatal(stale, cs, req, err)
	}

	if err := onto.ApplyUpdates(corrected); err != nil {
		return nil, uc.staleOrFatal(stale, cs, req, err)
	}

	nextAddress, err := onto.Serialize(ctx, uc.Snapshots)
	if err != nil {
		return nil, err
	}

	if nextAddress.String() == cs.SnapshotAddress {
		// No-op batch: nothing to swap or announce.
		return cs, nil
	}

	// Snapshot bytes must be durable before the address is published.
	if err := uc.Snapshots.Flush(ctx); err != nil {
		return nil, err
	}

	swapped, err := uc.ChangeSetRepo.SwapSnapshotAddress(ctx, cs.ID, cs.SnapshotAddress, nextAddress.String())
	if err != nil {
		return nil, err
	}

	if !swapped {
		return nil, pkg.ValidateBusinessError(constant.ErrStaleBaseline, "change set",
			cs.ID, cs.SnapshotAddress, nextAddress.String())
	}

	cs.SnapshotAddress = nextAddress.String()
	cs.SnapshotAddressHistory = append(cs.SnapshotAddressHistory, cs.SnapshotAddress)

	uc.publishChangeSetUpdated(ctx, cs)

	if len(onto.DirtyValueIDs()) > 0 {
		uc.enqueueDependentValueRun(ctx, cs)
	}

	logger.Infof("Rebase %s landed on change set %s at %s", req.ID, cs.ID, cs.SnapshotAddress)

	return cs, nil
}

// loadIncoming materializes the request's target graph: either the
// to-address as given, or the change batch applied to the base.
func (uc *UseCase) loadIncoming(ctx context.Context, base *graph.Graph, req *mmodel.RebaseRequest) (*graph.Graph, error) {
	if req.ToSnapshotAddress != nil {
		toAddress, err := cas.ParseHash(*req.ToSnapshotAddress)
		if err != nil {
			return nil, err
		}

		return graph.Load(ctx, uc.Snapshots, toAddress)
	}

	batchAddress, err := cas.ParseHash(req.ChangeBatchAddress)
	if err != nil {
		return nil, err
	}

	updates, err := graph.ReadChangeBatch(ctx, uc.Snapshots, batchAddress)
	if err != nil {
		return nil, err
	}

	incoming := base.Copy()

	// Client batches get the same correction treatment as merges, so a
	// batch that re-points an exclusive edge without removing the old
	// one resolves instead of tripping the post-apply invariant.
	corrected, err := incoming.CorrectTransforms(updates, false)
	if err != nil {
		return nil, err
	}

	if err := incoming.ApplyUpdates(corrected); err != nil {
		return nil, err
	}

	return incoming, nil
}

// staleOrFatal maps a merge failure on a stale request to StaleBaseline
// (client must re-read and retry); on a current request the error
// passes through and counts toward quarantine.
func (uc *UseCase) staleOrFatal(stale bool, cs *mmodel.ChangeSet, req *mmodel.RebaseRequest, err error) error {
	if stale {
		return pkg.ValidateBusinessError(constant.ErrStaleBaseline, "change set",
			cs.ID, req.FromSnapshotAddress, cs.SnapshotAddress)
	}

	return err
}

func (uc *UseCase) publishChangeSetUpdated(ctx context.Context, cs *mmodel.ChangeSet) {
	logger := libCommons.NewLoggerFromContext(ctx)

	envelope, err := mmodel.NewEnvelope(uuid.New().String(), mmodel.MessageKindChangeSetUpdated, mmodel.ChangeSetUpdated{
		WorkspaceID:     cs.WorkspaceID,
		ChangeSetID:     cs.ID,
		SnapshotAddress: cs.SnapshotAddress,
		At:              time.Now().UTC(),
	})
	if err != nil {
		logger.Errorf("Failed to build change-set-updated envelope: %v", err)

		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		logger.Errorf("Failed to marshal change-set-updated envelope: %v", err)

		return
	}

	if _, err := uc.Producer.ProducerDefault(ctx, constant.ExchangeName,
		constant.SubjectViewUpdate(cs.WorkspaceID, cs.ID), body); err != nil {
		logger.Errorf("Failed to publish change-set-updated for %s: %v", cs.ID, err)
	}
}

func (uc *UseCase) enqueueDependentValueRun(ctx context.Context, cs *mmodel.ChangeSet) {
	logger := libCommons.NewLoggerFromContext(ctx)

	envelope, err := mmodel.NewEnvelope(uuid.New().String(), mmodel.MessageKindDependentValueRun, mmodel.ChangeSetUpdated{
		WorkspaceID:     cs.WorkspaceID,
		ChangeSetID:     cs.ID,
		SnapshotAddress: cs.SnapshotAddress,
		At:              time.Now().UTC(),
	})
	if err != nil {
		logger.Errorf("Failed to build dependent-value-run envelope: %v", err)

		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		logger.Errorf("Failed to marshal dependent-value-run envelope: %v", err)

		return
	}

	// The run rides the same per-change-set subject as rebases, which
	// is what serializes it behind them.
	if _, err := uc.Producer.ProducerDefault(ctx, constant.ExchangeName,
		constant.SubjectRebaser(cs.WorkspaceID, cs.ID), body); err != nil {
		logger.Errorf("Failed to enqueue dependent-value run for %s: %v", cs.ID, err)
	}
}

func (uc *UseCase) appendAudit(ctx context.Context, workspaceID, changeSetID, kind string, payload map[string]any) {
	logger := libCommons.NewLoggerFromContext(ctx)

	entry := &mmodel.AuditLog{
		WorkspaceID: workspaceID,
		ChangeSetID: &changeSetID,
		Kind:        kind,
		Payload:     payload,
	}

	if err := uc.AuditRepo.Create(ctx, entry); err != nil {
		logger.Errorf("Failed to append audit log %s: %v", kind, err)
	}
}
