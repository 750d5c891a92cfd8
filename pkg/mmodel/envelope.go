package mmodel

import (
	"encoding/json"

	"github.com/weftworks/loom/pkg/constant"
)

// EnvelopeVersion is the current wire version emitted by producers.
const EnvelopeVersion = "1"

// Envelope is the versioned wrapper around every broker message.
// Consumers reject unknown versions deterministically instead of
// attempting to coerce the payload.
type Envelope struct {
	ID      string          `json:"id"`
	Version string          `json:"version"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Message kinds carried inside envelopes.
const (
	MessageKindRebaseRequest       = "rebase_request"
	MessageKindDependentValueRun   = "dependent_value_run"
	MessageKindChangeSetUpdated    = "change_set_updated"
	MessageKindChangeSetApplied    = "change_set_applied"
	MessageKindViewUpdate          = "view_update"
	MessageKindViewRebuild         = "view_rebuild"
	MessageKindViewNewChangeSet    = "view_new_change_set"
	MessageKindActionDispatch      = "action_dispatch"
	MessageKindPatchBatch          = "patch_batch"
	MessageKindIndexUpdate         = "index_update"
	MessageKindFuncExecutionResult = "func_execution_result"
)

// NewEnvelope wraps payload for the wire under the current version.
func NewEnvelope(id, kind string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Envelope{ID: id, Version: EnvelopeVersion, Kind: kind, Payload: raw}, nil
}

// Open validates the envelope version and unmarshals the payload.
func (e *Envelope) Open(out any) error {
	if e.Version != EnvelopeVersion {
		return constant.ErrUnsupportedEnvelopeVersion
	}

	return json.Unmarshal(e.Payload, out)
}
