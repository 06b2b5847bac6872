package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
)

type abortRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type pruneResponse struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	active, err := boolParam(q.Get("active"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	runs, err := s.svc.ListRuns(ctx, state.SessionFilter{
		ProjectID:  q.Get("project_id"),
		TaskID:     q.Get("task_id"),
		ActiveOnly: active,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, nonNil(runs))
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := s.svc.Heartbeat(ctx, chi.URLParam(r, "key"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, run)
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req abortRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	run, err := s.svc.Abort(ctx, chi.URLParam(r, "key"), req.Reason, req.Actor)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, run)
}

func (s *Server) ackAbort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := s.svc.AckAbort(ctx, chi.URLParam(r, "key"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, run)
}

// pruneRuns deletes ended sessions older than ?older_than=, a Go duration.
func (s *Server) pruneRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get("older_than")
	if raw == "" {
		cerr.SetJSONError(ctx, cerr.Validation("older_than is required"))
		return
	}
	olderThan, err := time.ParseDuration(raw)
	if err != nil {
		cerr.SetJSONError(ctx, cerr.Validation("invalid older_than %q", raw))
		return
	}
	n, err := s.svc.PruneRuns(ctx, olderThan)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, pruneResponse{Deleted: n})
}
