package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/mmodel"
	"github.com/weftworks/loom/pkg/sandbox"
)

const dispatcherLockPrefix = "loom:dispatcher:"

// DispatchActions runs one dispatcher pass for a change set: among the
// queued actions whose prerequisites have all reached terminal success
// (successful actions leave the table), dispatch in kind-priority order
// (Destroy > Update > Create > Refresh > Manual), ties broken by id,
// i.e. temporally. The pass repeats until no action becomes eligible,
// so a success immediately unblocks its dependents.
//
// One dispatcher runs per workspace at a time, guarded by a Redis
// mutex; a pass that loses the lock simply returns and the holder picks
// the work up.
func (uc *UseCase) DispatchActions(ctx context.Context, workspaceID, changeSetID string) error {
	logger := libCommons.NewLoggerFromContext(ctx)
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.dispatch_actions")
	defer span.End()

	lockKey := dispatcherLockPrefix + workspaceID

	acquired, err := uc.LockRepo.AcquireLock(ctx, lockKey, uc.LockTTL)
	if err != nil {
		return err
	}

	if !acquired {
		logger.Infof("Dispatcher for workspace %s already running, skipping pass", workspaceID)

		return nil
	}

	defer func() {
		if err := uc.LockRepo.ReleaseLock(ctx, lockKey); err != nil {
			logger.Errorf("Failed to release dispatcher lock %s: %v", lockKey, err)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		actions, err := uc.ActionRepo.FindAllByChangeSet(ctx, workspaceID, changeSetID)
		if err != nil {
			return err
		}

		eligible := eligibleActions(actions)
		if len(eligible) == 0 {
			return nil
		}

		progressed := false

		for _, a := range eligible {
			ok, err := uc.dispatchOne(ctx, a)
			if err != nil {
				libOpentelemetry.HandleSpanError(&span, "Failed to dispatch action", err)

				return err
			}

			if ok {
				progressed = true
			}
		}

		if !progressed {
			return nil
		}
	}
}

// eligibleActions filters queued actions whose dependencies are all
// gone and orders them for dispatch.
func eligibleActions(actions []*mmodel.Action) []*mmodel.Action {
	pending := make(map[string]bool, len(actions))

	for _, a := range actions {
		pending[a.ID] = true
	}

	var eligible []*mmodel.Action

	for _, a := range actions {
		if a.State != constant.ActionStateQueued {
			continue
		}

		blocked := false

		for _, dep := range a.DependsOn {
			if pending[dep] {
				blocked = true

				break
			}
		}

		if !blocked {
			eligible = append(eligible, a)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		pi, pj := eligible[i].Kind.DispatchPriority(), eligible[j].Kind.DispatchPriority()

		if pi != pj {
			return pi < pj
		}

		return eligible[i].ID < eligible[j].ID
	})

	return eligible
}

// dispatchOne runs a single action to completion. Returns true when the
// action reached terminal success (and so may have unblocked others).
func (uc *UseCase) dispatchOne(ctx context.Context, a *mmodel.Action) (bool, error) {
	logger := libCommons.NewLoggerFromContext(ctx)

	if _, err := uc.ActionRepo.UpdateState(ctx, a.ID, constant.ActionStateDispatched); err != nil {
		return false, err
	}

	// The run id is recorded on the action before the sandbox sees the
	// request. A retry (user Retry, or redelivery after a crash) reuses
	// the recorded id, which is what lets the sandbox deduplicate by
	// execution id.
	var funcRunID string

	if a.FuncRunID != nil && *a.FuncRunID != "" {
		funcRunID = *a.FuncRunID
	} else {
		funcRunID = string(graph.NewID())

		if err := uc.ActionRepo.SetFuncRun(ctx, a.ID, funcRunID); err != nil {
			return false, err
		}
	}

	submission, err := uc.buildSubmission(ctx, a, funcRunID)
	if err != nil {
		logger.Errorf("Failed to resolve action %s prototype: %v", a.ID, err)

		if _, stateErr := uc.ActionRepo.UpdateState(ctx, a.ID, constant.ActionStateFailed); stateErr != nil {
			return false, stateErr
		}

		return false, nil
	}

	if _, err := uc.ActionRepo.UpdateState(ctx, a.ID, constant.ActionStateRunning); err != nil {
		return false, err
	}

	_, result, err := uc.Runner.Run(ctx, submission)
	if err != nil {
		return false, err
	}

	if !result.Success {
		logger.Warnf("Action %s failed: %s", a.ID, result.Message)

		if _, err := uc.ActionRepo.UpdateState(ctx, a.ID, constant.ActionStateFailed); err != nil {
			return false, err
		}

		return false, nil
	}

	// Terminal success removes the action; only its func run remains.
	if err := uc.ActionRepo.Delete(ctx, a.ID); err != nil {
		return false, err
	}

	logger.Infof("Action %s completed as func run %s", a.ID, funcRunID)

	return true, nil
}

// buildSubmission resolves the action's prototype and function from the
// change set's snapshot.
func (uc *UseCase) buildSubmission(ctx context.Context, a *mmodel.Action, funcRunID string) (*sandbox.Submission, error) {
	cs, err := uc.ChangeSetRepo.Find(ctx, a.ChangeSetID)
	if err != nil {
		return nil, err
	}

	address, err := cas.ParseHash(cs.SnapshotAddress)
	if err != nil {
		return nil, err
	}

	g, err := graph.Load(ctx, uc.Snapshots, address)
	if err != nil {
		return nil, err
	}

	prototype, ok := g.GetNode(graph.ID(a.PrototypeID))
	if !ok {
		return nil, pkg.ValidateBusinessError(constant.ErrNodeNotFound, "action prototype", a.PrototypeID)
	}

	if _, isPrototype := prototype.Weight.(graph.ActionPrototypeWeight); !isPrototype {
		return nil, pkg.ValidateBusinessError(constant.ErrEntityNotFound, "action prototype", a.PrototypeID)
	}

	uses := g.Outgoing(prototype.ID, graph.EdgeKindUse)
	if len(uses) == 0 {
		return nil, pkg.ValidateBusinessError(constant.ErrEntityNotFound, "func", a.PrototypeID)
	}

	funcNode, ok := g.GetNode(uses[0].To)
	if !ok {
		return nil, pkg.ValidateBusinessError(constant.ErrNodeNotFound, "func", uses[0].To)
	}

	funcWeight, ok := funcNode.Weight.(graph.FuncWeight)
	if !ok {
		return nil, pkg.ValidateBusinessError(constant.ErrEntityNotFound, "func", funcNode.ID)
	}

	var code string

	if !funcWeight.CodeAddress.IsZero() {
		raw, found, err := uc.Snapshots.Get(ctx, funcWeight.CodeAddress)
		if err != nil {
			return nil, err
		}

		if !found {
			return nil, pkg.ValidateBusinessError(constant.ErrEntityNotFound, "func code", funcWeight.CodeAddress)
		}

		code = base64.StdEncoding.EncodeToString(raw)
	}

	args, err := json.Marshal(map[string]string{
		"actionId":    a.ID,
		"componentId": a.ComponentID,
		"actionKind":  string(a.Kind),
	})
	if err != nil {
		return nil, err
	}

	return &sandbox.Submission{
		ExecutionID: funcRunID,
		WorkspaceID: a.WorkspaceID,
		ChangeSetID: a.ChangeSetID,
		ComponentID: &a.ComponentID,
		FuncID:      string(funcNode.ID),
		FuncKind:    constant.FuncKindAction,
		Handler:     funcWeight.Handler,
		CodeBase64:  code,
		Args:        args,
	}, nil
}
