package rotation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_CanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateIdle, StateBackupCheck, true},
		{StateIdle, StatePromoting, false},
		{StateBackupCheck, StateIdle, true},
		{StateBackupCheck, StateArchiving, true},
		{StateArchiving, StatePromoting, true},
		{StateArchiving, StateIdle, false},
		{StatePromoting, StateMetadataUpdate, true},
		{StateMetadataUpdate, StateIdle, true},
		{StateFailed, StateIdle, true},
		{StateFailed, StateBackupCheck, true},
		{StateFailed, StatePromoting, false},
		{StatePromoting, StateFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStateInfo_FullCycle(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	si := NewStateInfo(func() time.Time { return fixed })
	assert.Equal(t, StateIdle, si.Current())

	for _, s := range []State{StateBackupCheck, StateArchiving, StatePromoting, StateMetadataUpdate, StateIdle} {
		require.NoError(t, si.TransitionTo(s, "", nil))
	}

	transitions := si.Transitions()
	require.Len(t, transitions, 5)
	assert.Equal(t, StateIdle, transitions[0].FromState)
	assert.Equal(t, StateIdle, transitions[4].ToState)
	assert.Equal(t, fixed, transitions[0].Timestamp)
	assert.Equal(t, 1, si.Attempts())
}

func TestStateInfo_InvalidTransition(t *testing.T) {
	t.Parallel()

	si := NewStateInfo(nil)
	err := si.TransitionTo(StatePromoting, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle to promoting")
	assert.Empty(t, si.Transitions())
}

func TestStateInfo_FailureAndRecovery(t *testing.T) {
	t.Parallel()

	si := NewStateInfo(nil)
	boom := errors.New("copy failed")
	require.NoError(t, si.TransitionTo(StateBackupCheck, "", nil))
	require.NoError(t, si.TransitionTo(StateArchiving, "", nil))
	require.NoError(t, si.TransitionTo(StateFailed, "archive", boom))
	assert.Equal(t, boom, si.LastError())
	assert.Equal(t, "copy failed", si.Transitions()[2].Error)

	// emergency path goes straight back to backup_check
	require.NoError(t, si.TransitionTo(StateBackupCheck, "emergency", nil))
	assert.Equal(t, 2, si.Attempts())
	require.NoError(t, si.TransitionTo(StateIdle, "no backup", nil))
	assert.NoError(t, si.LastError())
}

func TestStateInfo_TransitionLogBounded(t *testing.T) {
	t.Parallel()

	si := NewStateInfo(nil)
	for i := 0; i < maxTransitions; i++ {
		require.NoError(t, si.TransitionTo(StateBackupCheck, "", nil))
		require.NoError(t, si.TransitionTo(StateIdle, "", nil))
	}
	assert.Len(t, si.Transitions(), maxTransitions)
}
