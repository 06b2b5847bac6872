package orchestrator

import (
	"log/slog"
	"time"

	"github.com/ShayCichocki/foreman/internal/telemetry"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// DefaultStoreTimeout bounds every persistence call made by the service.
const DefaultStoreTimeout = 5 * time.Second

// Option configures a Service. Use With* functions to create Options.
type Option func(*serviceOptions)

// serviceOptions holds all optional configuration.
type serviceOptions struct {
	logger           *slog.Logger
	now              func() time.Time
	storeTimeout     time.Duration
	metrics          *telemetry.Metrics
	defaultMaxAgents int
}

func defaultOptions() serviceOptions {
	return serviceOptions{
		logger:           slog.Default(),
		now:              time.Now,
		storeTimeout:     DefaultStoreTimeout,
		defaultMaxAgents: models.DefaultMaxAgents,
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *serviceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStoreTimeout sets the deadline applied to each store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		if d > 0 {
			o.storeTimeout = d
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithDefaultMaxAgents sets max_agents for projects whose work loop row does
// not exist yet.
func WithDefaultMaxAgents(n int) Option {
	return func(o *serviceOptions) {
		if n > 0 {
			o.defaultMaxAgents = n
		}
	}
}
