package wirenet

import "log/slog"

// Logger is the structured logger used by the engine.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DefaultLogger returns slog.Default().
func DefaultLogger() Logger {
	return slog.Default()
}

// DiscardLogger drops every record.
func DiscardLogger() Logger {
	return slog.New(slog.DiscardHandler)
}
