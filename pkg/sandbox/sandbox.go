// Package sandbox submits function invocations to the external
// execution sandbox and tracks each one as a FuncRun with streamed
// logs. The package is oblivious to what a function means; callers tag
// the invocation with its kind and the sandbox routes it.
package sandbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/weftworks/loom/pkg/constant"
)

// BeforeFunction runs in the sandbox ahead of the main handler, e.g. to
// decrypt secrets into the execution context.
type BeforeFunction struct {
	Handler    string          `json:"handler"`
	CodeBase64 string          `json:"codeBase64"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// Request is one execution submission. ExecutionID is opaque to the
// sandbox and correlates the streamed responses.
type Request struct {
	ExecutionID string            `json:"execution_id"`
	Kind        constant.FuncKind `json:"kind"`
	Handler     string            `json:"handler"`
	CodeBase64  string            `json:"code_base64"`
	Args        json.RawMessage   `json:"args,omitempty"`
	Before      []BeforeFunction  `json:"before,omitempty"`
	TimeoutSecs int               `json:"timeout"`
}

// Event kinds streamed back by the sandbox.
const (
	EventOutputLine     = "output_line"
	EventLog            = "log"
	EventFunctionResult = "function_result"
)

// Failure kinds.
const (
	FailureKindTimeout   = "Timeout"
	FailureKindCancelled = "Cancelled"
	FailureKindTransient = "Transient"
	FailureKindUserCode  = "UserCodeException"
)

// FunctionResult is the terminal message of one execution.
type FunctionResult struct {
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Message   string          `json:"message,omitempty"`
	Backtrace string          `json:"backtrace,omitempty"`
}

// Event is one streamed response message.
type Event struct {
	ExecutionID string          `json:"execution_id"`
	Kind        string          `json:"kind"`
	Line        string          `json:"line,omitempty"`
	Level       string          `json:"level,omitempty"`
	Result      *FunctionResult `json:"result,omitempty"`
}

// Client is the transport to the sandbox. Execute blocks until the
// terminal result, the timeout, or context cancellation, invoking
// onEvent for every streamed message including the terminal one.
type Client interface {
	Execute(ctx context.Context, req *Request, timeout time.Duration, onEvent func(context.Context, *Event)) (*FunctionResult, error)
}
