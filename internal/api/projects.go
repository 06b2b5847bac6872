package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// workLoopRequest is a partial update of a project's work loop. Absent
// fields are left alone.
type workLoopRequest struct {
	Status       *models.WorkLoopStatus `json:"status"`
	CurrentPhase *string                `json:"current_phase"`
	ActiveAgents *int                   `json:"active_agents"`
	MaxAgents    *int                   `json:"max_agents"`
	ErrorMessage *string                `json:"error_message"`
}

// gate serves both /api/gate (every project) and /api/projects/{id}/gate.
func (s *Server) gate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	g, err := s.svc.Gate(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, g)
}

func (s *Server) attention(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	signals, err := s.svc.Attention(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, nonNil(signals))
}

func (s *Server) nextReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	tasks, err := s.svc.NextReady(ctx, chi.URLParam(r, "id"), limit)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, nonNil(tasks))
}

func (s *Server) getWorkLoop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := s.svc.WorkLoop().State(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, st)
}

func (s *Server) listWorkLoops(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	states, err := s.svc.WorkLoop().ListStates(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, nonNil(states))
}

func (s *Server) patchWorkLoop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req workLoopRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	st, err := s.svc.WorkLoop().UpsertState(ctx, chi.URLParam(r, "id"), models.WorkLoopPatch{
		Status:       req.Status,
		CurrentPhase: req.CurrentPhase,
		ActiveAgents: req.ActiveAgents,
		MaxAgents:    req.MaxAgents,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, st)
}

func (s *Server) workLoopAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	loop := s.svc.WorkLoop()
	var (
		st  *models.WorkLoopState
		err error
	)
	switch action := chi.URLParam(r, "action"); action {
	case "start":
		st, err = loop.Start(ctx, id)
	case "stop":
		st, err = loop.Stop(ctx, id)
	case "pause":
		st, err = loop.Pause(ctx, id)
	case "resume":
		st, err = loop.Resume(ctx, id)
	default:
		err = cerr.NotFoundf("unknown work loop action %q", action)
	}
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, st)
}

type orphanResponse struct {
	LostRuns      []*models.Task        `json:"lost_runs"`
	StaleSessions []models.AgentSession `json:"stale_sessions"`
}

func newOrphanResponse(report *state.OrphanReport) orphanResponse {
	if report == nil {
		report = &state.OrphanReport{}
	}
	return orphanResponse{LostRuns: nonNil(report.LostRuns), StaleSessions: nonNil(report.StaleSessions)}
}

func (s *Server) orphans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := s.svc.CheckOrphans(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, newOrphanResponse(report))
}

func (s *Server) recoverRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := s.svc.Recover(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, newOrphanResponse(report))
}
