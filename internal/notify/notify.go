// Package notify combines controller event sinks.
package notify

import (
	"log/slog"

	"shortnotes/internal/domain"
	"shortnotes/internal/ports"
)

// Fanout forwards every notification to each sink in order.
type Fanout []ports.EventSink

func (f Fanout) SessionStateChanged(change domain.StateChange) {
	for _, sink := range f {
		sink.SessionStateChanged(change)
	}
}

func (f Fanout) TranscriptChanged(update domain.TranscriptUpdate) {
	for _, sink := range f {
		sink.TranscriptChanged(update)
	}
}

func (f Fanout) ElapsedTick(tick domain.Tick) {
	for _, sink := range f {
		sink.ElapsedTick(tick)
	}
}

// LogSink writes notifications to a structured logger. Ticks and transcript updates are
// logged at debug level.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) SessionStateChanged(change domain.StateChange) {
	attrs := []any{
		slog.String("state", string(change.State)),
		slog.String("reason", string(change.Reason)),
	}
	if change.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", change.SessionID))
	}
	if change.Message != "" {
		attrs = append(attrs, slog.String("message", change.Message))
	}
	s.log.Info("session state changed", attrs...)
}

func (s *LogSink) TranscriptChanged(update domain.TranscriptUpdate) {
	s.log.Debug("transcript changed",
		slog.String("session_id", update.SessionID),
		slog.Int("sequence", update.Sequence),
		slog.Bool("final", update.Final),
		slog.Int("length", len(update.Output)),
	)
}

func (s *LogSink) ElapsedTick(tick domain.Tick) {
	s.log.Debug("elapsed", slog.String("session_id", tick.SessionID), slog.String("display", tick.Display))
}
