package constant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionStateTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ActionState
		to      ActionState
		allowed bool
	}{
		{"queued dispatches", ActionStateQueued, ActionStateDispatched, true},
		{"queued holds", ActionStateQueued, ActionStateOnHold, true},
		{"dispatched runs", ActionStateDispatched, ActionStateRunning, true},
		{"running fails", ActionStateRunning, ActionStateFailed, true},
		{"failed retries", ActionStateFailed, ActionStateQueued, true},
		{"failed holds", ActionStateFailed, ActionStateOnHold, true},
		{"hold resumes", ActionStateOnHold, ActionStateQueued, true},
		{"running cannot hold", ActionStateRunning, ActionStateOnHold, false},
		{"hold cannot dispatch", ActionStateOnHold, ActionStateDispatched, false},
		{"queued cannot run", ActionStateQueued, ActionStateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestDispatchPriorityOrdering(t *testing.T) {
	assert.Less(t, ActionKindDestroy.DispatchPriority(), ActionKindUpdate.DispatchPriority())
	assert.Less(t, ActionKindUpdate.DispatchPriority(), ActionKindCreate.DispatchPriority())
	assert.Less(t, ActionKindCreate.DispatchPriority(), ActionKindRefresh.DispatchPriority())
	assert.Less(t, ActionKindRefresh.DispatchPriority(), ActionKindManual.DispatchPriority())
}
