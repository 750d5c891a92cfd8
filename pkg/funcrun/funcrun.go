// Package funcrun records function invocations: one immutable FuncRun
// row per execution plus an append-only log stream.
package funcrun

import (
	"context"
	"encoding/json"
	"time"

	"github.com/weftworks/loom/pkg/constant"
)

// FuncRun is the out-of-graph record of one function invocation. Once
// the state is terminal the record never changes again.
type FuncRun struct {
	ID          string                `json:"id"`
	WorkspaceID string                `json:"workspaceId"`
	ChangeSetID string                `json:"changeSetId"`
	ComponentID *string               `json:"componentId,omitempty"`
	FuncID      string                `json:"funcId"`
	FuncKind    constant.FuncKind     `json:"funcKind"`
	State       constant.FuncRunState `json:"state"`
	Arguments   json.RawMessage       `json:"arguments,omitempty"`
	Result      json.RawMessage       `json:"result,omitempty"`
	StartedAt   *time.Time            `json:"startedAt,omitempty"`
	EndedAt     *time.Time            `json:"endedAt,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// LogLine is one streamed output or log event of a run.
type LogLine struct {
	RunID     string    `json:"runId"`
	Line      string    `json:"line"`
	Stream    string    `json:"stream"`
	Timestamp time.Time `json:"ts"`
}

// Streams a log line may belong to.
const (
	StreamOutput = "output"
	StreamLog    = "log"
)

// Repository persists func runs and their logs.
type Repository interface {
	Create(ctx context.Context, run *FuncRun) (*FuncRun, error)
	Find(ctx context.Context, id string) (*FuncRun, error)
	UpdateState(ctx context.Context, id string, state constant.FuncRunState, result json.RawMessage) (*FuncRun, error)
	AppendLog(ctx context.Context, line *LogLine) error
	FindLogs(ctx context.Context, runID string) ([]*LogLine, error)
}
