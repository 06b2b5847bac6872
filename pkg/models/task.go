package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not allowed by the
// task lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusBacklog indicates the task is parked and not yet schedulable.
	TaskStatusBacklog TaskStatus = "backlog"
	// TaskStatusReady indicates the task may be dispatched once its dependencies are done.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusInProgress indicates an agent is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusInReview indicates the work was completed with a PR awaiting approval.
	TaskStatusInReview TaskStatus = "in_review"
	// TaskStatusDone indicates the task is finished.
	TaskStatusDone TaskStatus = "done"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusBacklog, TaskStatusReady, TaskStatusInProgress, TaskStatusInReview, TaskStatusDone:
		return true
	default:
		return false
	}
}

// DispatchStatus tracks whether an agent run is attached to a task.
type DispatchStatus string

const (
	DispatchIdle       DispatchStatus = "idle"
	DispatchDispatched DispatchStatus = "dispatched"
	DispatchCompleted  DispatchStatus = "completed"
)

// Valid returns true if the dispatch status is a known value.
func (s DispatchStatus) Valid() bool {
	switch s {
	case DispatchIdle, DispatchDispatched, DispatchCompleted:
		return true
	default:
		return false
	}
}

// Resolution records how a finished task was closed.
type Resolution string

const (
	ResolutionNone       Resolution = ""
	ResolutionCompleted  Resolution = "completed"
	ResolutionDiscarded  Resolution = "discarded"
	ResolutionSuperseded Resolution = "superseded"
)

// Valid returns true if the resolution is a known value. The empty
// resolution is valid.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionNone, ResolutionCompleted, ResolutionDiscarded, ResolutionSuperseded:
		return true
	default:
		return false
	}
}

// Task represents a unit of work tracked through the lifecycle.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// ProjectID scopes the task and its dependency edges.
	ProjectID string `json:"project_id" yaml:"project_id"`
	// Title is the short description of the task.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Status is the lifecycle state.
	Status TaskStatus `json:"status" yaml:"status"`
	// Priority influences ready-task selection.
	Priority Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Role is the kind of agent expected to pick the task up.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
	// AgentModel is the model the agent should run with.
	AgentModel string `json:"agent_model,omitempty" yaml:"agent_model,omitempty"`
	// Assignee is the agent currently attributed to the task.
	Assignee string `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	// DispatchStatus tracks the attached agent run.
	DispatchStatus DispatchStatus `json:"dispatch_status" yaml:"dispatch_status"`
	// Resolution records how a done task was closed.
	Resolution Resolution `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	// EscalatedAt is set when the task was flagged for triage.
	EscalatedAt *time.Time `json:"escalated_at,omitempty" yaml:"escalated_at,omitempty"`
	// EscalationReason explains the last escalation.
	EscalationReason string `json:"escalation_reason,omitempty" yaml:"escalation_reason,omitempty"`
	// ReadyAt is when the task last entered the ready state.
	ReadyAt *time.Time `json:"ready_at,omitempty" yaml:"ready_at,omitempty"`
	// CompletedAt is when the task reached done or in_review.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	// TriageAckedAt is when a triage action last handled the task.
	TriageAckedAt *time.Time `json:"triage_acked_at,omitempty" yaml:"triage_acked_at,omitempty"`
	// Version increments on every update.
	Version int64 `json:"version" yaml:"version"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.EscalatedAt = cloneTime(t.EscalatedAt)
	c.ReadyAt = cloneTime(t.ReadyAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.TriageAckedAt = cloneTime(t.TriageAckedAt)
	return &c
}

// HasUnreadEscalation reports whether the task was escalated after the last
// triage acknowledgement.
func (t *Task) HasUnreadEscalation() bool {
	if t.EscalatedAt == nil {
		return false
	}
	return t.TriageAckedAt == nil || t.TriageAckedAt.Before(*t.EscalatedAt)
}

// transitions lists the unforced lifecycle moves. Forced moves (triage kill
// and reassign) bypass this table.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusBacklog:    {TaskStatusReady},
	TaskStatusReady:      {TaskStatusInProgress},
	TaskStatusInProgress: {TaskStatusInReview, TaskStatusDone},
	TaskStatusInReview:   {TaskStatusDone},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another without a forced triage action.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition wrapped with the offending
// pair when the move is not allowed.
func ValidateTransition(from, to TaskStatus) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: unknown status %q -> %q", ErrInvalidTransition, from, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// NullTime is a patch value for a nullable timestamp. A nil *NullTime leaves
// the column untouched; a NullTime with a nil Time clears it.
type NullTime struct {
	Time *time.Time
}

// SetTime returns a patch value that stamps t.
func SetTime(t time.Time) *NullTime {
	return &NullTime{Time: &t}
}

// ClearTime returns a patch value that clears the column.
func ClearTime() *NullTime {
	return &NullTime{}
}

// RestoreTime returns a patch value that puts back a previous, possibly nil,
// timestamp.
func RestoreTime(t *time.Time) *NullTime {
	return &NullTime{Time: cloneTime(t)}
}

// TaskPatch is a partial update of a task. Nil fields are left untouched.
type TaskPatch struct {
	Title            *string
	Description      *string
	Status           *TaskStatus
	Priority         *Priority
	Role             *string
	AgentModel       *string
	Assignee         *string
	DispatchStatus   *DispatchStatus
	Resolution       *Resolution
	EscalationReason *string
	EscalatedAt      *NullTime
	ReadyAt          *NullTime
	CompletedAt      *NullTime
	TriageAckedAt    *NullTime

	// ExpectedVersion, when non-zero, makes the update fail with a conflict
	// unless the stored version matches.
	ExpectedVersion int64
}

// IsEmpty reports whether no field is set.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.Role == nil && p.AgentModel == nil &&
		p.Assignee == nil && p.DispatchStatus == nil && p.Resolution == nil &&
		p.EscalationReason == nil && p.EscalatedAt == nil && p.ReadyAt == nil &&
		p.CompletedAt == nil && p.TriageAckedAt == nil
}

// Validate checks enum fields carried by the patch.
func (p TaskPatch) Validate() error {
	if p.IsEmpty() {
		return errors.New("patch has no fields set")
	}
	if p.Title != nil && *p.Title == "" {
		return errors.New("title must not be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("unknown status %q", *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", *p.Priority)
	}
	if p.DispatchStatus != nil && !p.DispatchStatus.Valid() {
		return fmt.Errorf("unknown dispatch status %q", *p.DispatchStatus)
	}
	if p.Resolution != nil && !p.Resolution.Valid() {
		return fmt.Errorf("unknown resolution %q", *p.Resolution)
	}
	return nil
}

// Apply writes the set fields onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Role != nil {
		t.Role = *p.Role
	}
	if p.AgentModel != nil {
		t.AgentModel = *p.AgentModel
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.DispatchStatus != nil {
		t.DispatchStatus = *p.DispatchStatus
	}
	if p.Resolution != nil {
		t.Resolution = *p.Resolution
	}
	if p.EscalationReason != nil {
		t.EscalationReason = *p.EscalationReason
	}
	if p.EscalatedAt != nil {
		t.EscalatedAt = cloneTime(p.EscalatedAt.Time)
	}
	if p.ReadyAt != nil {
		t.ReadyAt = cloneTime(p.ReadyAt.Time)
	}
	if p.CompletedAt != nil {
		t.CompletedAt = cloneTime(p.CompletedAt.Time)
	}
	if p.TriageAckedAt != nil {
		t.TriageAckedAt = cloneTime(p.TriageAckedAt.Time)
	}
}

// RestorePatch builds a patch that puts the lifecycle fields of prev back.
// It is used to compensate a status change whose follow-up step failed.
func RestorePatch(prev *Task) TaskPatch {
	status := prev.Status
	dispatch := prev.DispatchStatus
	resolution := prev.Resolution
	role := prev.Role
	model := prev.AgentModel
	assignee := prev.Assignee
	return TaskPatch{
		Status:         &status,
		DispatchStatus: &dispatch,
		Resolution:     &resolution,
		Role:           &role,
		AgentModel:     &model,
		Assignee:       &assignee,
		ReadyAt:        RestoreTime(prev.ReadyAt),
		CompletedAt:    RestoreTime(prev.CompletedAt),
		TriageAckedAt:  RestoreTime(prev.TriageAckedAt),
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
