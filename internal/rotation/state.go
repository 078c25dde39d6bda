package rotation

import (
	"fmt"
	"sync"
	"time"
)

// State represents the current phase of the rotation state machine.
type State string

const (
	// StateIdle indicates no rotation is in progress.
	StateIdle State = "idle"

	// StateBackupCheck indicates the backup slot is being confirmed.
	StateBackupCheck State = "backup_check"

	// StateArchiving indicates the current active bundle is being archived.
	StateArchiving State = "archiving"

	// StatePromoting indicates the backup is being copied to active.
	StatePromoting State = "promoting"

	// StateMetadataUpdate indicates rotation bookkeeping is being written.
	StateMetadataUpdate State = "metadata_update"

	// StateFailed indicates the last rotation failed.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// ValidTransitions defines allowed state transitions. Every working state may fail;
// a failed machine retries through idle or goes straight to backup_check for an emergency.
var ValidTransitions = map[State][]State{
	StateIdle:           {StateBackupCheck},
	StateBackupCheck:    {StateArchiving, StateIdle, StateFailed},
	StateArchiving:      {StatePromoting, StateFailed},
	StatePromoting:      {StateMetadataUpdate, StateFailed},
	StateMetadataUpdate: {StateIdle, StateFailed},
	StateFailed:         {StateIdle, StateBackupCheck},
}

// CanTransitionTo checks if a transition from current state to new state is valid.
func (s State) CanTransitionTo(newState State) bool {
	for _, valid := range ValidTransitions[s] {
		if valid == newState {
			return true
		}
	}
	return false
}

// Transition represents a state transition with metadata.
type Transition struct {
	FromState State     `json:"from"`
	ToState   State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// maxTransitions bounds the in-memory transition log
const maxTransitions = 200

// StateInfo holds the current state and its transition log.
type StateInfo struct {
	mu sync.RWMutex

	current     State
	transitions []Transition
	lastError   error
	attempts    int
	now         func() time.Time
}

// NewStateInfo creates a StateInfo in the idle state.
func NewStateInfo(now func() time.Time) *StateInfo {
	if now == nil {
		now = time.Now
	}
	return &StateInfo{
		current: StateIdle,
		now:     now,
	}
}

// TransitionTo moves to newState. Returns an error if the transition is not allowed.
func (si *StateInfo) TransitionTo(newState State, reason string, err error) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	if !si.current.CanTransitionTo(newState) {
		return fmt.Errorf("invalid state transition from %s to %s", si.current, newState)
	}

	t := Transition{
		FromState: si.current,
		ToState:   newState,
		Reason:    reason,
		Timestamp: si.now().UTC(),
	}
	if err != nil {
		t.Error = err.Error()
	}
	si.transitions = append(si.transitions, t)
	if len(si.transitions) > maxTransitions {
		si.transitions = si.transitions[len(si.transitions)-maxTransitions:]
	}
	si.current = newState

	switch newState {
	case StateBackupCheck:
		si.attempts++
	case StateFailed:
		si.lastError = err
	case StateIdle:
		si.lastError = nil
	}

	return nil
}

// Current returns the current state.
func (si *StateInfo) Current() State {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.current
}

// Attempts returns how many rotations have entered backup_check.
func (si *StateInfo) Attempts() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.attempts
}

// LastError returns the error that put the machine in the failed state, if any.
func (si *StateInfo) LastError() error {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.lastError
}

// Transitions returns a copy of the transition log.
func (si *StateInfo) Transitions() []Transition {
	si.mu.RLock()
	defer si.mu.RUnlock()
	out := make([]Transition, len(si.transitions))
	copy(out, si.transitions)
	return out
}
