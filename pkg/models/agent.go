package models

import "time"

// Activity thresholds shared by status derivation and stuck detection.
// These values are fixed; consumers compare against them for parity.
const (
	IdleAfter  = 5 * time.Minute
	StuckAfter = 15 * time.Minute
)

// ActivityStatus is the derived state of an agent run.
type ActivityStatus string

const (
	// ActivityRunning means the run reported activity in the last five minutes.
	ActivityRunning ActivityStatus = "running"
	// ActivityIdle means the run has been quiet for five to fifteen minutes.
	ActivityIdle ActivityStatus = "idle"
	// ActivityCompleted means the run ended or has been quiet for fifteen
	// minutes or more.
	ActivityCompleted ActivityStatus = "completed"
)

// DeriveActivity maps time since last activity to a status.
func DeriveActivity(since time.Duration) ActivityStatus {
	switch {
	case since < IdleAfter:
		return ActivityRunning
	case since < StuckAfter:
		return ActivityIdle
	default:
		return ActivityCompleted
	}
}

// AgentSession is one agent run attributed to a task.
type AgentSession struct {
	// Key is the unique identifier of the run.
	Key string `json:"key"`
	// ProjectID is the project of the task.
	ProjectID string `json:"project_id"`
	// TaskID is the task the agent is working on.
	TaskID string `json:"task_id"`
	// AgentID identifies the agent.
	AgentID string `json:"agent_id"`
	// StartedAt is when the run was dispatched.
	StartedAt time.Time `json:"started_at"`
	// LastActivityAt is the last heartbeat; nil until the agent reports in.
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	// EndedAt is set once the run finished or was aborted.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// AbortedLastRun marks a run that was aborted rather than completed.
	AbortedLastRun bool `json:"aborted_last_run"`
	// AbortAckedAt is when a human acknowledged the aborted run.
	AbortAckedAt *time.Time `json:"abort_acked_at,omitempty"`
	// AbortReason explains the abort.
	AbortReason string `json:"abort_reason,omitempty"`
}

// Active reports whether the run has not ended.
func (s *AgentSession) Active() bool {
	return s.EndedAt == nil
}

// Reported reports whether the agent has sent at least one heartbeat.
func (s *AgentSession) Reported() bool {
	return s.LastActivityAt != nil
}

// LastSeen returns the most recent activity, falling back to the start time.
func (s *AgentSession) LastSeen() time.Time {
	if s.LastActivityAt != nil {
		return *s.LastActivityAt
	}
	return s.StartedAt
}

// Status derives the run state at now.
func (s *AgentSession) Status(now time.Time) ActivityStatus {
	if s.EndedAt != nil {
		return ActivityCompleted
	}
	return DeriveActivity(now.Sub(s.LastSeen()))
}

// Stuck reports whether the run has been silent past the stuck threshold and
// any aborted run has not been acknowledged yet.
func (s *AgentSession) Stuck(now time.Time) bool {
	if s.AbortedLastRun && s.AbortAckedAt != nil {
		return false
	}
	return now.Sub(s.LastSeen()) >= StuckAfter
}
