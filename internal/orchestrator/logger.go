package orchestrator

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger routes cron's scheduler messages into slog. Routine scheduling
// chatter goes to debug.
type cronLogger struct {
	l *slog.Logger
}

var _ cron.Logger = cronLogger{}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
