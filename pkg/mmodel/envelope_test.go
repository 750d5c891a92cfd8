package mmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/loom/pkg/constant"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := RebaseRequest{
		ID:                  "req-1",
		WorkspaceID:         "ws-1",
		ChangeSetID:         "cs-1",
		FromSnapshotAddress: "addr",
		ChangeBatchAddress:  "batch",
	}

	envelope, err := NewEnvelope("msg-1", MessageKindRebaseRequest, in)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, envelope.Version)

	var out RebaseRequest

	require.NoError(t, envelope.Open(&out))
	assert.Equal(t, in, out)
}

func TestEnvelopeRejectsUnknownVersion(t *testing.T) {
	envelope := &Envelope{ID: "msg-2", Version: "99", Kind: MessageKindRebaseRequest, Payload: []byte(`{}`)}

	var out RebaseRequest

	err := envelope.Open(&out)
	require.Error(t, err)
	assert.ErrorIs(t, err, constant.ErrUnsupportedEnvelopeVersion)
}
