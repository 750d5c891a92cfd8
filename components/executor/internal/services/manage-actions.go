package services

import (
	"context"
	"encoding/json"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	"github.com/google/uuid"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/mmodel"
)

// EnqueueAction records a new action in Queued state and asks the
// dispatcher for a pass.
func (uc *UseCase) EnqueueAction(ctx context.Context, a *mmodel.Action) (*mmodel.Action, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.enqueue_action")
	defer span.End()

	if a.ID == "" {
		a.ID = string(graph.NewID())
	}

	if a.OriginatingChangeSetID == "" {
		a.OriginatingChangeSetID = a.ChangeSetID
	}

	a.State = constant.ActionStateQueued

	a, err := uc.ActionRepo.Create(ctx, a)
	if err != nil {
		return nil, err
	}

	uc.requestDispatch(ctx, a.WorkspaceID, a.ChangeSetID)

	return a, nil
}

// HoldAction parks a queued or failed action until the user resumes it.
func (uc *UseCase) HoldAction(ctx context.Context, id string) (*mmodel.Action, error) {
	return uc.transition(ctx, id, constant.ActionStateOnHold, false)
}

// ResumeAction returns a held action to the queue.
func (uc *UseCase) ResumeAction(ctx context.Context, id string) (*mmodel.Action, error) {
	return uc.transition(ctx, id, constant.ActionStateQueued, true)
}

// RetryAction re-queues a failed action.
func (uc *UseCase) RetryAction(ctx context.Context, id string) (*mmodel.Action, error) {
	return uc.transition(ctx, id, constant.ActionStateQueued, true)
}

// CancelAction removes a non-running action from the graph entirely.
func (uc *UseCase) CancelAction(ctx context.Context, id string) error {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.cancel_action")
	defer span.End()

	a, err := uc.ActionRepo.Find(ctx, id)
	if err != nil {
		return err
	}

	if a.State == constant.ActionStateRunning || a.State == constant.ActionStateDispatched {
		return pkg.ValidateBusinessError(constant.ErrInvalidActionTransition, "action", a.State, "cancelled")
	}

	return uc.ActionRepo.Delete(ctx, id)
}

// RehomeActions moves an applied change set's queued actions onto head
// and kicks the dispatcher for the newly eligible ones.
func (uc *UseCase) RehomeActions(ctx context.Context, workspaceID, appliedChangeSetID, headChangeSetID string) error {
	logger := libCommons.NewLoggerFromContext(ctx)
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.rehome_actions")
	defer span.End()

	moved, err := uc.ActionRepo.RehomeQueued(ctx, workspaceID, appliedChangeSetID, headChangeSetID)
	if err != nil {
		return err
	}

	logger.Infof("Re-homed %d actions from %s onto %s", moved, appliedChangeSetID, headChangeSetID)

	if moved > 0 {
		return uc.DispatchActions(ctx, workspaceID, headChangeSetID)
	}

	return nil
}

func (uc *UseCase) transition(ctx context.Context, id string, state constant.ActionState, kick bool) (*mmodel.Action, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.transition_action")
	defer span.End()

	a, err := uc.ActionRepo.UpdateState(ctx, id, state)
	if err != nil {
		return nil, err
	}

	if kick {
		uc.requestDispatch(ctx, a.WorkspaceID, a.ChangeSetID)
	}

	return a, nil
}

// requestDispatch publishes a dispatch request so the pass runs behind
// whatever the executor is currently doing for the change set.
func (uc *UseCase) requestDispatch(ctx context.Context, workspaceID, changeSetID string) {
	logger := libCommons.NewLoggerFromContext(ctx)

	envelope, err := mmodel.NewEnvelope(uuid.New().String(), mmodel.MessageKindActionDispatch, mmodel.ActionDispatchRequest{
		WorkspaceID: workspaceID,
		ChangeSetID: changeSetID,
	})
	if err != nil {
		logger.Errorf("Failed to build dispatch-request envelope: %v", err)

		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		logger.Errorf("Failed to marshal dispatch-request envelope: %v", err)

		return
	}

	if _, err := uc.Producer.ProducerDefault(ctx, constant.ExchangeName,
		constant.SubjectJobs(workspaceID, changeSetID), body); err != nil {
		logger.Errorf("Failed to publish dispatch request for %s: %v", changeSetID, err)
	}
}
