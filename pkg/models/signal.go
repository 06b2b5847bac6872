package models

import (
	"sort"
	"time"
)

// SignalKind classifies an agent-raised signal.
type SignalKind string

const (
	SignalQuestion SignalKind = "question"
	SignalBlocker  SignalKind = "blocker"
	SignalAlert    SignalKind = "alert"
	SignalFYI      SignalKind = "fyi"
)

// Valid returns true if the kind is a known value.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalQuestion, SignalBlocker, SignalAlert, SignalFYI:
		return true
	default:
		return false
	}
}

// Blocking reports whether signals of this kind block until answered.
// Only fyi signals are non-blocking.
func (k SignalKind) Blocking() bool {
	return k != SignalFYI
}

// Severity orders signals for presentation.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityNormal, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank returns the display rank; critical sorts first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	default:
		return 2
	}
}

// Signal is a notification raised by an agent, optionally blocking until a
// human or automation responds.
type Signal struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id,omitempty"`
	ProjectID   string     `json:"project_id,omitempty"`
	SessionKey  string     `json:"session_key,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	Kind        SignalKind `json:"kind"`
	Severity    Severity   `json:"severity"`
	Message     string     `json:"message"`
	Blocking    bool       `json:"blocking"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	Response    string     `json:"response,omitempty"`
	RespondedBy string     `json:"responded_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Pending reports whether the signal still needs a response.
func (s *Signal) Pending() bool {
	return s.RespondedAt == nil
}

// SortSignals orders signals critical, high, normal, then newest first. IDs
// break exact timestamp ties so the order is stable.
func SortSignals(signals []Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra < rb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
