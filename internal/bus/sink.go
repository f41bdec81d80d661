package bus

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"shortnotes/internal/domain"
)

const (
	SubjectState      = "session.state"
	SubjectTranscript = "session.transcript"
	SubjectTick       = "session.tick"
)

// Sink publishes controller notifications as JSON. Publishing is buffered by the NATS
// client, so the controller never waits on the network.
type Sink struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

func NewSink(conn *nats.Conn, prefix string, log *slog.Logger) *Sink {
	return &Sink{conn: conn, prefix: prefix, log: log}
}

// Subject returns the full subject for one of the Subject* suffixes.
func (s *Sink) Subject(suffix string) string {
	if s.prefix == "" {
		return suffix
	}
	return s.prefix + "." + suffix
}

func (s *Sink) SessionStateChanged(change domain.StateChange) {
	s.publish(SubjectState, change)
}

func (s *Sink) TranscriptChanged(update domain.TranscriptUpdate) {
	s.publish(SubjectTranscript, update)
}

func (s *Sink) ElapsedTick(tick domain.Tick) {
	s.publish(SubjectTick, tick)
}

func (s *Sink) publish(suffix string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to encode bus event", slog.String("subject", suffix), slog.String("error", err.Error()))
		return
	}
	if err := s.conn.Publish(s.Subject(suffix), data); err != nil {
		s.log.Warn("failed to publish bus event", slog.String("subject", suffix), slog.String("error", err.Error()))
	}
}
