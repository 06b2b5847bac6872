package clog

import "log/slog"

func HTTPStatusToLevel(status int) slog.Level {
	switch {
	case status >= 100 && status < 400:
		return slog.LevelInfo
	case status == 499:
		return slog.LevelInfo
	case status >= 400 && status < 500:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// ParseLevel maps a config string to a slog level. Unknown values fall back
// to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
