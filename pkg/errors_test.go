package pkg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weftworks/loom/pkg/constant"
)

func TestEntityNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name     string
		errorObj EntityNotFoundError
		expected string
	}{
		{
			name:     "EntityType is not empty",
			errorObj: EntityNotFoundError{EntityType: "ChangeSet"},
			expected: "Entity ChangeSet not found",
		},
		{
			name:     "Message is not empty",
			errorObj: EntityNotFoundError{Message: "Custom error message"},
			expected: "Custom error message",
		},
		{
			name:     "Message is empty, but Err is set",
			errorObj: EntityNotFoundError{Err: errors.New("internal error")},
			expected: "internal error",
		},
		{
			name:     "everything empty",
			errorObj: EntityNotFoundError{},
			expected: "entity not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.errorObj.Error())
		})
	}
}

func TestValidateBusinessErrorMapsKnownCodes(t *testing.T) {
	tests := []struct {
		name     string
		sentinel error
		args     []any
		check    func(t *testing.T, err error)
	}{
		{
			name:     "stale baseline",
			sentinel: constant.ErrStaleBaseline,
			args:     []any{"cs-1", "addr-a", "addr-b"},
			check: func(t *testing.T, err error) {
				var stale StaleBaselineError

				assert.True(t, errors.As(err, &stale))
				assert.Equal(t, "cs-1", stale.ChangeSetID)
				assert.Equal(t, "addr-a", stale.ExpectedAddress)
				assert.Equal(t, "addr-b", stale.CurrentAddress)
			},
		},
		{
			name:     "exclusive edge mismatch",
			sentinel: constant.ErrExclusiveEdgeMismatch,
			args:     []any{"node-1", "default_view"},
			check: func(t *testing.T, err error) {
				var mismatch ExclusiveEdgeMismatchError

				assert.True(t, errors.As(err, &mismatch))
				assert.Equal(t, "node-1", mismatch.NodeID)
			},
		},
		{
			name:     "approvals missing",
			sentinel: constant.ErrApprovalsMissing,
			args:     []any{"cs-2"},
			check: func(t *testing.T, err error) {
				var missing ApprovalsMissingError

				assert.True(t, errors.As(err, &missing))
				assert.Equal(t, "cs-2", missing.ChangeSetID)
			},
		},
		{
			name:     "quarantined",
			sentinel: constant.ErrChangeSetQuarantined,
			args:     []any{"cs-3"},
			check: func(t *testing.T, err error) {
				var quarantined QuarantinedError

				assert.True(t, errors.As(err, &quarantined))
				assert.Equal(t, constant.ErrChangeSetQuarantined.Error(), quarantined.Code)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBusinessError(tt.sentinel, "entity", tt.args...)

			tt.check(t, err)
			assert.True(t, IsBusinessError(err))
		})
	}
}

func TestValidateBusinessErrorPassesUnknownThrough(t *testing.T) {
	unknown := errors.New("boom")

	assert.Equal(t, unknown, ValidateBusinessError(unknown, "entity"))
	assert.False(t, IsBusinessError(unknown))
}
