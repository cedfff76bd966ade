package logging

import (
	"context"
	"log/slog"
	"time"
)

// Sink receives operator-facing log lines. Emitting never affects the
// outcome of the operation being logged.
type Sink interface {
	Emit(level slog.Level, target, message string, ts time.Time)
}

// SlogSink forwards operator lines to a slog logger with a target attribute.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink returns a sink writing to logger, or to slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{Logger: logger}
}

func (s *SlogSink) Emit(level slog.Level, target, message string, ts time.Time) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !logger.Enabled(context.Background(), level) {
		return
	}
	rec := slog.NewRecord(ts, level, message, 0)
	rec.AddAttrs(slog.String("target", target))
	_ = logger.Handler().Handle(context.Background(), rec)
}

// Discard drops every line.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(slog.Level, string, string, time.Time) {}
