package sandbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/funcrun"
)

func TestRunnerSuccessTracksStates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := NewMockClient(ctrl)
	runs := funcrun.NewMockRepository(ctrl)

	runs.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, run *funcrun.FuncRun) (*funcrun.FuncRun, error) {
			assert.Equal(t, constant.FuncRunStateCreated, run.State)
			assert.Equal(t, "func-1", run.FuncID)

			return run, nil
		})

	runs.EXPECT().
		UpdateState(gomock.Any(), gomock.Any(), constant.FuncRunStateDispatched, gomock.Nil()).
		DoAndReturn(func(_ context.Context, id string, state constant.FuncRunState, _ json.RawMessage) (*funcrun.FuncRun, error) {
			return &funcrun.FuncRun{ID: id, State: state}, nil
		})

	runs.EXPECT().
		UpdateState(gomock.Any(), gomock.Any(), constant.FuncRunStateRunning, gomock.Nil()).
		DoAndReturn(func(_ context.Context, id string, state constant.FuncRunState, _ json.RawMessage) (*funcrun.FuncRun, error) {
			return &funcrun.FuncRun{ID: id, State: state}, nil
		})

	runs.EXPECT().
		AppendLog(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, line *funcrun.LogLine) error {
			assert.Equal(t, "hello", line.Line)
			assert.Equal(t, funcrun.StreamOutput, line.Stream)

			return nil
		})

	runs.EXPECT().
		UpdateState(gomock.Any(), gomock.Any(), constant.FuncRunStateSuccess, gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, state constant.FuncRunState, result json.RawMessage) (*funcrun.FuncRun, error) {
			return &funcrun.FuncRun{ID: id, State: state, Result: result}, nil
		})

	client.EXPECT().
		Execute(gomock.Any(), gomock.Any(), 30*time.Second, gomock.Any()).
		DoAndReturn(func(ctx context.Context, req *Request, _ time.Duration, onEvent func(context.Context, *Event)) (*FunctionResult, error) {
			onEvent(ctx, &Event{ExecutionID: req.ExecutionID, Kind: EventOutputLine, Line: "hello"})

			return &FunctionResult{Success: true, Payload: json.RawMessage(`3`)}, nil
		})

	runner := NewRunner(client, runs, 30*time.Second)

	run, result, err := runner.Run(context.Background(), &Submission{
		WorkspaceID: "ws-1",
		ChangeSetID: "cs-1",
		FuncID:      "func-1",
		FuncKind:    constant.FuncKindAttribute,
		Handler:     "main",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, constant.FuncRunStateSuccess, run.State)
}

func TestRunnerTimeoutBecomesFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := NewMockClient(ctrl)
	runs := funcrun.NewMockRepository(ctrl)

	runs.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, run *funcrun.FuncRun) (*funcrun.FuncRun, error) {
			return run, nil
		})

	runs.EXPECT().
		UpdateState(gomock.Any(), gomock.Any(), constant.FuncRunStateDispatched, gomock.Nil()).
		DoAndReturn(func(_ context.Context, id string, state constant.FuncRunState, _ json.RawMessage) (*funcrun.FuncRun, error) {
			return &funcrun.FuncRun{ID: id, State: state}, nil
		})

	runs.EXPECT().
		UpdateState(gomock.Any(), gomock.Any(), constant.FuncRunStateFailure, gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, state constant.FuncRunState, result json.RawMessage) (*funcrun.FuncRun, error) {
			return &funcrun.FuncRun{ID: id, State: state, Result: result}, nil
		})

	client.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&FunctionResult{Success: false, Kind: FailureKindTimeout, Message: "execution exceeded its timeout"}, nil)

	runner := NewRunner(client, runs, time.Second)

	run, result, err := runner.Run(context.Background(), &Submission{
		WorkspaceID: "ws-1",
		ChangeSetID: "cs-1",
		FuncID:      "func-slow",
		FuncKind:    constant.FuncKindAction,
	})
	require.NoError(t, err)
	assert.Equal(t, FailureKindTimeout, result.Kind)
	assert.Equal(t, constant.FuncRunStateFailure, run.State)
}
