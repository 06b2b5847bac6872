package models

import (
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAgents is the concurrency ceiling given to a project whose work
// loop state is created without an explicit max.
const DefaultMaxAgents = 3

// WorkLoopStatus is the state of a project's autonomous dispatch loop.
type WorkLoopStatus string

const (
	WorkLoopRunning WorkLoopStatus = "running"
	WorkLoopPaused  WorkLoopStatus = "paused"
	WorkLoopStopped WorkLoopStatus = "stopped"
	WorkLoopError   WorkLoopStatus = "error"
)

// Valid returns true if the status is a known value.
func (s WorkLoopStatus) Valid() bool {
	switch s {
	case WorkLoopRunning, WorkLoopPaused, WorkLoopStopped, WorkLoopError:
		return true
	default:
		return false
	}
}

// CanTransitionLoop reports whether the work loop may move between states.
// Staying in the same state is always allowed.
func CanTransitionLoop(from, to WorkLoopStatus) bool {
	if from == to || to == WorkLoopStopped {
		return true
	}
	switch from {
	case WorkLoopRunning:
		return to == WorkLoopPaused || to == WorkLoopError
	case WorkLoopPaused, WorkLoopStopped, WorkLoopError:
		return to == WorkLoopRunning
	}
	return false
}

// WorkLoopState is the per-project concurrency and cycle bookkeeping.
type WorkLoopState struct {
	ProjectID    string         `json:"project_id"`
	Status       WorkLoopStatus `json:"status"`
	CurrentPhase string         `json:"current_phase,omitempty"`
	CurrentCycle int64          `json:"current_cycle"`
	ActiveAgents int            `json:"active_agents"`
	MaxAgents    int            `json:"max_agents"`
	ErrorMessage string         `json:"error_message,omitempty"`
	LastCycleAt  *time.Time     `json:"last_cycle_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HasCapacity reports whether another agent may be admitted.
func (s *WorkLoopState) HasCapacity() bool {
	return s.ActiveAgents < s.MaxAgents
}

// NewWorkLoopState returns the state a project starts with before any patch
// is applied.
func NewWorkLoopState(projectID string, maxAgents int) *WorkLoopState {
	if maxAgents < 1 {
		maxAgents = DefaultMaxAgents
	}
	return &WorkLoopState{
		ProjectID: projectID,
		Status:    WorkLoopStopped,
		MaxAgents: maxAgents,
	}
}

// WorkLoopPatch is a partial update of a work loop state.
type WorkLoopPatch struct {
	Status       *WorkLoopStatus
	CurrentPhase *string
	CurrentCycle *int64
	ActiveAgents *int
	MaxAgents    *int
	ErrorMessage *string
	LastCycleAt  *NullTime
}

// IsEmpty reports whether no field is set.
func (p WorkLoopPatch) IsEmpty() bool {
	return p.Status == nil && p.CurrentPhase == nil && p.CurrentCycle == nil &&
		p.ActiveAgents == nil && p.MaxAgents == nil && p.ErrorMessage == nil &&
		p.LastCycleAt == nil
}

// Validate checks the patch in isolation.
func (p WorkLoopPatch) Validate() error {
	if p.IsEmpty() {
		return errors.New("patch has no fields set")
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("unknown work loop status %q", *p.Status)
	}
	if p.MaxAgents != nil && *p.MaxAgents < 1 {
		return fmt.Errorf("max_agents must be at least 1, got %d", *p.MaxAgents)
	}
	if p.ActiveAgents != nil && *p.ActiveAgents < 0 {
		return fmt.Errorf("active_agents must not be negative, got %d", *p.ActiveAgents)
	}
	if p.CurrentCycle != nil && *p.CurrentCycle < 0 {
		return fmt.Errorf("current_cycle must not be negative, got %d", *p.CurrentCycle)
	}
	return nil
}

// Apply writes the set fields onto s and checks the counter invariant on the
// result.
func (p WorkLoopPatch) Apply(s *WorkLoopState) error {
	next := *s
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.CurrentPhase != nil {
		next.CurrentPhase = *p.CurrentPhase
	}
	if p.CurrentCycle != nil {
		next.CurrentCycle = *p.CurrentCycle
	}
	if p.ActiveAgents != nil {
		next.ActiveAgents = *p.ActiveAgents
	}
	if p.MaxAgents != nil {
		next.MaxAgents = *p.MaxAgents
	}
	if p.ErrorMessage != nil {
		next.ErrorMessage = *p.ErrorMessage
	}
	if p.LastCycleAt != nil {
		next.LastCycleAt = cloneTime(p.LastCycleAt.Time)
	}
	if next.ActiveAgents > next.MaxAgents {
		return fmt.Errorf("active_agents %d exceeds max_agents %d", next.ActiveAgents, next.MaxAgents)
	}
	*s = next
	return nil
}
