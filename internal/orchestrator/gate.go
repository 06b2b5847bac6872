package orchestrator

import (
	"context"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// GateDetails itemizes what is waiting for attention.
type GateDetails struct {
	ReadyTasks        int `json:"readyTasks"`
	PendingInputs     int `json:"pendingInputs"`
	PendingDispatch   int `json:"pendingDispatch"`
	StuckTasks        int `json:"stuckTasks"`
	ReviewTasks       int `json:"reviewTasks"`
	UnreadEscalations int `json:"unreadEscalations"`
	PendingSignals    int `json:"pendingSignals"`
}

// Any reports whether any count is non-zero.
func (d GateDetails) Any() bool {
	return d.ReadyTasks > 0 || d.PendingInputs > 0 || d.PendingDispatch > 0 ||
		d.StuckTasks > 0 || d.ReviewTasks > 0 || d.UnreadEscalations > 0 ||
		d.PendingSignals > 0
}

// GateStatus tells an external driver whether to wake up.
type GateStatus struct {
	NeedsAttention bool        `json:"needsAttention"`
	Details        GateDetails `json:"details"`
}

// Gate computes the gate for a project, or for every project when
// projectID is empty. It only reads, so it is safe to poll.
func (s *Service) Gate(ctx context.Context, projectID string) (*GateStatus, error) {
	tasks, err := s.listTasks(ctx, state.TaskFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	signals, err := call(ctx, s, "signals", func(ctx context.Context) ([]models.Signal, error) {
		return s.store.ListSignals(ctx, state.SignalFilter{ProjectID: projectID, UnrespondedOnly: true})
	})
	if err != nil {
		return nil, err
	}
	sessions, err := call(ctx, s, "sessions", func(ctx context.Context) ([]models.AgentSession, error) {
		return s.store.ListSessions(ctx, state.SessionFilter{ProjectID: projectID})
	})
	if err != nil {
		return nil, err
	}

	// Sessions arrive newest first, so the first one seen per task is its
	// latest and the first running one is its active session.
	latest := make(map[string]*models.AgentSession)
	active := make(map[string]*models.AgentSession)
	for i := range sessions {
		sess := &sessions[i]
		if _, ok := latest[sess.TaskID]; !ok {
			latest[sess.TaskID] = sess
		}
		if _, ok := active[sess.TaskID]; !ok && sess.Active() {
			active[sess.TaskID] = sess
		}
	}

	now := s.now()
	var d GateDetails
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusReady:
			d.ReadyTasks++
		case models.TaskStatusInReview:
			d.ReviewTasks++
		case models.TaskStatusInProgress:
			if sess := latest[t.ID]; sess != nil {
				if sess.Stuck(now) {
					d.StuckTasks++
				}
			} else if now.Sub(t.UpdatedAt) >= models.StuckAfter {
				d.StuckTasks++
			}
		}
		if t.DispatchStatus == models.DispatchDispatched {
			if sess := active[t.ID]; sess == nil || !sess.Reported() {
				d.PendingDispatch++
			}
		}
		if t.HasUnreadEscalation() {
			d.UnreadEscalations++
		}
	}
	for _, sig := range signals {
		if sig.Kind == models.SignalQuestion {
			d.PendingInputs++
		}
		if sig.Blocking {
			d.PendingSignals++
		}
	}

	return &GateStatus{NeedsAttention: d.Any(), Details: d}, nil
}

// Attention lists the blocking signals still waiting for a response, most
// severe first, newest first within a severity.
func (s *Service) Attention(ctx context.Context, projectID string) ([]models.Signal, error) {
	signals, err := call(ctx, s, "signals", func(ctx context.Context) ([]models.Signal, error) {
		return s.store.ListSignals(ctx, state.SignalFilter{
			ProjectID:       projectID,
			BlockingOnly:    true,
			UnrespondedOnly: true,
		})
	})
	if err != nil {
		return nil, err
	}
	models.SortSignals(signals)
	return signals, nil
}
