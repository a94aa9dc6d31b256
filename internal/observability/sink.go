// Package observability defines the structured-event sink the session
// engine and listener emit through: session.opened, session.imported,
// submit.received, submit.completed, unlink.received, unlink.result,
// session.closed. The sink is an external collaborator — the core only
// depends on the small Sink interface below.
package observability

import (
	"context"
	"log/slog"
)

// Sink receives one structured event per call. Implementations must be
// safe for concurrent use: the sink is shared across every session.
type Sink interface {
	Event(name string, attrs ...slog.Attr)
}

// SlogSink is the default Sink, wrapping a *slog.Logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a Sink that logs each event at Info level through
// logger, or through slog.Default() if logger is nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Event(name string, attrs ...slog.Attr) {
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, name, attrs...)
}

// NopSink discards every event; used by tests that don't care about
// observability output.
type NopSink struct{}

func (NopSink) Event(string, ...slog.Attr) {}
