package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

type createSignalRequest struct {
	TaskID     string            `json:"task_id"`
	ProjectID  string            `json:"project_id"`
	SessionKey string            `json:"session_key"`
	AgentID    string            `json:"agent_id"`
	Kind       models.SignalKind `json:"kind"`
	Severity   models.Severity   `json:"severity"`
	Message    string            `json:"message"`
}

type respondSignalRequest struct {
	Response  string `json:"response"`
	Responder string `json:"responder"`
}

func (s *Server) createSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createSignalRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	sig, err := s.svc.CreateSignal(ctx, orchestrator.SignalInput(req))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, sig)
}

func (s *Server) listSignals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	unresponded, err := boolParam(q.Get("unresponded"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	blocking, err := boolParam(q.Get("blocking"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	signals, err := s.svc.ListSignals(ctx, state.SignalFilter{
		TaskID:          q.Get("task_id"),
		ProjectID:       q.Get("project_id"),
		Kind:            models.SignalKind(q.Get("kind")),
		BlockingOnly:    blocking,
		UnrespondedOnly: unresponded,
		Limit:           limit,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, nonNil(signals))
}

func (s *Server) respondSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req respondSignalRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	sig, err := s.svc.RespondSignal(ctx, chi.URLParam(r, "id"), req.Response, req.Responder)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, sig)
}
