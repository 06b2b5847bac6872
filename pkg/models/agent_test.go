package models

import (
	"testing"
	"time"
)

func TestDeriveActivity(t *testing.T) {
	tests := []struct {
		name  string
		since time.Duration
		want  ActivityStatus
	}{
		{"just now", 0, ActivityRunning},
		{"4m59s", 4*time.Minute + 59*time.Second, ActivityRunning},
		{"5m", 5 * time.Minute, ActivityIdle},
		{"14m59s", 14*time.Minute + 59*time.Second, ActivityIdle},
		{"15m", 15 * time.Minute, ActivityCompleted},
		{"an hour", time.Hour, ActivityCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveActivity(tt.since); got != tt.want {
				t.Errorf("DeriveActivity(%v) = %q, want %q", tt.since, got, tt.want)
			}
		})
	}
}

func TestAgentSession_Status(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	beat := now.Add(-6 * time.Minute)
	ended := now.Add(-time.Minute)

	tests := []struct {
		name    string
		session AgentSession
		want    ActivityStatus
	}{
		{"no heartbeat uses start", AgentSession{StartedAt: now.Add(-time.Minute)}, ActivityRunning},
		{"heartbeat six minutes ago", AgentSession{StartedAt: now.Add(-time.Hour), LastActivityAt: &beat}, ActivityIdle},
		{"ended run", AgentSession{StartedAt: now.Add(-2 * time.Minute), EndedAt: &ended}, ActivityCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Status(now); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAgentSession_Stuck(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-20 * time.Minute)
	acked := now.Add(-time.Minute)

	tests := []struct {
		name    string
		session AgentSession
		want    bool
	}{
		{"fresh run", AgentSession{StartedAt: now.Add(-time.Minute)}, false},
		{"exactly fifteen minutes", AgentSession{StartedAt: now.Add(-StuckAfter)}, true},
		{"silent run", AgentSession{StartedAt: old, LastActivityAt: &old}, true},
		{"aborted, not acked", AgentSession{StartedAt: old, AbortedLastRun: true}, true},
		{"aborted and acked", AgentSession{StartedAt: old, AbortedLastRun: true, AbortAckedAt: &acked}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Stuck(now); got != tt.want {
				t.Errorf("Stuck() = %v, want %v", got, tt.want)
			}
		})
	}
}
