package sandbox

import (
	"context"
	"encoding/json"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	"github.com/google/uuid"

	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/funcrun"
)

// Runner couples the sandbox client with func run bookkeeping: it owns
// the Created → Dispatched → Running → terminal progression and streams
// output into the run's log as it arrives.
type Runner struct {
	Client   Client
	FuncRuns funcrun.Repository
	Timeout  time.Duration
}

// NewRunner wires a runner.
func NewRunner(client Client, funcRuns funcrun.Repository, timeout time.Duration) *Runner {
	return &Runner{Client: client, FuncRuns: funcRuns, Timeout: timeout}
}

// Submission is everything the runner needs to execute one function.
// ExecutionID may be pre-assigned by callers that must record the run
// id before dispatching (the action engine does); left empty, the
// runner generates one. A resubmitted ExecutionID keeps the sandbox
// request id stable across retries while each attempt is recorded as
// its own run.
type Submission struct {
	ExecutionID string
	WorkspaceID string
	ChangeSetID string
	ComponentID *string
	FuncID      string
	FuncKind    constant.FuncKind
	Handler     string
	CodeBase64  string
	Args        json.RawMessage
	Before      []BeforeFunction
}

// Run executes the submission and returns the completed func run. The
// returned error covers infrastructure problems only; a function-level
// Failure lands in the run's state and result.
func (r *Runner) Run(ctx context.Context, sub *Submission) (*funcrun.FuncRun, *FunctionResult, error) {
	logger := libCommons.NewLoggerFromContext(ctx)

	executionID := sub.ExecutionID
	runID := executionID

	if executionID == "" {
		executionID = uuid.New().String()
		runID = executionID
	} else if prior, findErr := r.FuncRuns.Find(ctx, executionID); findErr == nil && prior != nil {
		// Retry of a recorded execution: the sandbox keeps seeing the
		// original execution id so its idempotency contract engages,
		// while this attempt is tracked as its own immutable run.
		runID = uuid.New().String()
	}

	run, err := r.FuncRuns.Create(ctx, &funcrun.FuncRun{
		ID:          runID,
		WorkspaceID: sub.WorkspaceID,
		ChangeSetID: sub.ChangeSetID,
		ComponentID: sub.ComponentID,
		FuncID:      sub.FuncID,
		FuncKind:    sub.FuncKind,
		State:       constant.FuncRunStateCreated,
		Arguments:   sub.Args,
	})
	if err != nil {
		return nil, nil, err
	}

	if _, err := r.FuncRuns.UpdateState(ctx, run.ID, constant.FuncRunStateDispatched, nil); err != nil {
		return nil, nil, err
	}

	request := &Request{
		ExecutionID: executionID,
		Kind:        sub.FuncKind,
		Handler:     sub.Handler,
		CodeBase64:  sub.CodeBase64,
		Args:        sub.Args,
		Before:      sub.Before,
	}

	running := false

	result, err := r.Client.Execute(ctx, request, r.Timeout, func(ctx context.Context, event *Event) {
		if !running {
			running = true

			if _, err := r.FuncRuns.UpdateState(ctx, run.ID, constant.FuncRunStateRunning, nil); err != nil {
				logger.Errorf("Failed to mark func run %s running: %v", run.ID, err)
			}
		}

		switch event.Kind {
		case EventOutputLine:
			r.appendLog(ctx, run.ID, event.Line, funcrun.StreamOutput)
		case EventLog:
			r.appendLog(ctx, run.ID, event.Line, funcrun.StreamLog)
		}
	})
	if err != nil {
		if _, stateErr := r.FuncRuns.UpdateState(ctx, run.ID, constant.FuncRunStateFailure, nil); stateErr != nil {
			logger.Errorf("Failed to mark func run %s failed: %v", run.ID, stateErr)
		}

		return run, nil, err
	}

	finalState := constant.FuncRunStateFailure
	if result.Success {
		finalState = constant.FuncRunStateSuccess
	} else if result.Kind == FailureKindCancelled {
		finalState = constant.FuncRunStateCancelled
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return run, result, err
	}

	run, err = r.FuncRuns.UpdateState(ctx, run.ID, finalState, payload)
	if err != nil {
		return run, result, err
	}

	return run, result, nil
}

func (r *Runner) appendLog(ctx context.Context, runID, line, stream string) {
	logger := libCommons.NewLoggerFromContext(ctx)

	err := r.FuncRuns.AppendLog(ctx, &funcrun.LogLine{
		RunID:     runID,
		Line:      line,
		Stream:    stream,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logger.Errorf("Failed to append log line for func run %s: %v", runID, err)
	}
}
