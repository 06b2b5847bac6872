// Package api exposes the orchestrator over JSON/HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/telemetry"
	"github.com/ShayCichocki/foreman/internal/version"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/clog"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type Server struct {
	mu        sync.Mutex
	server    *http.Server
	closed    bool
	svc       *orchestrator.Service
	telemetry *telemetry.Provider
	logger    *slog.Logger
	apiKey    string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTelemetry exposes the provider's readings on /api/metrics.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(s *Server) { s.telemetry = p }
}

// WithAPIKey requires key on every /api request.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

func NewServer(svc *orchestrator.Service, opts ...Option) *Server {
	s := &Server{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.telemetry == nil {
		s.telemetry = &telemetry.Provider{Metrics: telemetry.Noop()}
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/healthz", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(s.logger),
			cerr.NewJSONResponseChiMiddleware(),
			s.apiKeyMiddleware,
		)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "method not allowed", nil)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.listTasks)
			r.Post("/", s.createTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getTask)
				r.Post("/ready", s.markReady)
				r.Post("/dispatch", s.dispatch)
				r.Post("/complete", s.complete)
				r.Post("/approve", s.approve)
				r.Post("/escalate", s.escalate)
				r.Post("/acknowledge", s.acknowledge)
				r.Post("/triage/kill", s.kill)
				r.Post("/triage/reassign", s.reassign)
				r.Post("/triage/split", s.split)
				r.Get("/dependencies", s.listDependencies)
				r.Post("/dependencies", s.addDependency)
				r.Delete("/dependencies/{dependsOnID}", s.removeDependency)
				r.Get("/blocked-by", s.blockedBy)
				r.Get("/comments", s.listComments)
				r.Get("/events", s.listEvents)
			})
		})

		r.Route("/signals", func(r chi.Router) {
			r.Get("/", s.listSignals)
			r.Post("/", s.createSignal)
			r.Post("/{id}/respond", s.respondSignal)
		})

		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/gate", s.gate)
			r.Get("/attention", s.attention)
			r.Get("/next-ready", s.nextReady)
			r.Get("/work-loop", s.getWorkLoop)
			r.Patch("/work-loop", s.patchWorkLoop)
			r.Post("/work-loop/{action}", s.workLoopAction)
			r.Get("/orphans", s.orphans)
			r.Post("/recover", s.recoverRuns)
		})
		r.Get("/gate", s.gate)
		r.Get("/work-loops", s.listWorkLoops)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Post("/prune", s.pruneRuns)
			r.Post("/{key}/heartbeat", s.heartbeat)
			r.Post("/{key}/abort", s.abort)
			r.Post("/{key}/ack", s.ackAbort)
		})

		r.Get("/metrics", s.metrics)
	})
	return r
}

// ListenAndServe serves until Shutdown. ctx becomes the base context of
// every request.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("starting server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a running server. A server shut down before it started
// never serves.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version.Get()})
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			cerr.SetNewJSONError(r.Context(), cerr.Unauthenticated, "invalid api key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	points, err := s.telemetry.Snapshot(ctx)
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.Internal, "failed to collect metrics", err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{
		"enabled": s.telemetry.Enabled(),
		"points":  nonNil(points),
	})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return cerr.NewError(cerr.InvalidArgument, "invalid request body", err)
	}
	return nil
}

// nonNil turns a nil slice into an empty one so lists encode as [].
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
