package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

type createTaskRequest struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Status      models.TaskStatus `json:"status"`
	Priority    models.Priority   `json:"priority"`
	Role        string            `json:"role"`
	AgentModel  string            `json:"agent_model"`
	Actor       string            `json:"actor"`
}

type actorRequest struct {
	Actor string `json:"actor"`
}

type dispatchRequest struct {
	AgentID string `json:"agent_id"`
	Actor   string `json:"actor"`
}

type completeRequest struct {
	Summary string `json:"summary"`
	PRURL   string `json:"pr_url"`
	Notes   string `json:"notes"`
	Agent   string `json:"agent"`
}

type reasonRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type reassignRequest struct {
	Actor      string  `json:"actor"`
	Role       *string `json:"role"`
	AgentModel *string `json:"agent_model"`
}

type splitRequest struct {
	Actor    string                      `json:"actor"`
	Subtasks []orchestrator.SubtaskInput `json:"subtasks"`
}

type dependencyRequest struct {
	DependsOnID string `json:"depends_on_id"`
	Actor       string `json:"actor"`
}

type dependenciesResponse struct {
	TaskID    string   `json:"task_id"`
	DependsOn []string `json:"depends_on"`
}

type blockedByResponse struct {
	TaskID    string   `json:"task_id"`
	BlockedBy []string `json:"blocked_by"`
}

type addDependencyResponse struct {
	TaskID      string `json:"task_id"`
	DependsOnID string `json:"depends_on_id"`
	Added       bool   `json:"added"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.svc.CreateTask(ctx, orchestrator.TaskInput{
		ID:          req.ID,
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Role:        req.Role,
		AgentModel:  req.AgentModel,
		Actor:       req.Actor,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, t)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	f := state.TaskFilter{
		ProjectID:      q.Get("project_id"),
		DispatchStatus: models.DispatchStatus(q.Get("dispatch_status")),
	}
	for _, st := range splitList(q.Get("status")) {
		f.Statuses = append(f.Statuses, models.TaskStatus(st))
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	f.Limit = limit
	tasks, err := s.svc.ListTasks(ctx, f)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, nonNil(tasks))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.svc.GetTask(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) markReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req actorRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.svc.MarkReady(ctx, chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dispatchRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	res, err := s.svc.Dispatch(ctx, orchestrator.DispatchInput{
		TaskID:  chi.URLParam(r, "id"),
		AgentID: req.AgentID,
		Actor:   req.Actor,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, res)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req completeRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.svc.Complete(ctx, orchestrator.CompleteInput{
		TaskID:  chi.URLParam(r, "id"),
		Summary: req.Summary,
		PRURL:   req.PRURL,
		Notes:   req.Notes,
		Agent:   req.Agent,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req actorRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.svc.Approve(ctx, chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) escalate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.svc.Escalate(ctx, chi.URLParam(r, "id"), req.Actor, req.Reason)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) acknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.svc.Acknowledge(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) kill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.svc.Kill(ctx, chi.URLParam(r, "id"), req.Actor, req.Reason)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) reassign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req reassignRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.svc.Reassign(ctx, orchestrator.ReassignInput{
		TaskID:     chi.URLParam(r, "id"),
		Actor:      req.Actor,
		Role:       req.Role,
		AgentModel: req.AgentModel,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) split(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req splitRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	res, err := s.svc.Split(ctx, chi.URLParam(r, "id"), req.Actor, req.Subtasks)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, res)
}

func (s *Server) listDependencies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	deps, err := s.svc.Dependencies().List(ctx, id)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, dependenciesResponse{TaskID: id, DependsOn: nonNil(deps)})
}

func (s *Server) addDependency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var req dependencyRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	added, err := s.svc.Dependencies().Add(ctx, id, req.DependsOnID, req.Actor)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	cerr.SetJSONResponseWithStatus(ctx, status, addDependencyResponse{TaskID: id, DependsOnID: req.DependsOnID, Added: added})
}

func (s *Server) removeDependency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := s.svc.Dependencies().Remove(ctx, id, chi.URLParam(r, "dependsOnID"), r.URL.Query().Get("actor")); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) blockedBy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	blockers, err := s.svc.Dependencies().BlockedBy(ctx, id)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, blockedByResponse{TaskID: id, BlockedBy: nonNil(blockers)})
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	comments, err := s.svc.ListComments(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, nonNil(comments))
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	events, err := s.svc.ListEvents(ctx, state.EventFilter{
		TaskID: chi.URLParam(r, "id"),
		Kind:   r.URL.Query().Get("kind"),
		Limit:  limit,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, nonNil(events))
}

// splitList parses a comma separated query value.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, cerr.Validation("invalid integer %q", v)
	}
	return n, nil
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, cerr.Validation("invalid boolean %q", v)
	}
	return b, nil
}
