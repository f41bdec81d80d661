package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"shortnotes/internal/domain"
)

// Timeline records session state transitions as events. Transcript and tick events are
// not recorded; the finished transcript is kept by SaveResult.
type Timeline struct {
	store   *Store
	log     *slog.Logger
	timeout time.Duration
}

func NewTimeline(store *Store, log *slog.Logger, timeout time.Duration) *Timeline {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Timeline{store: store, log: log, timeout: timeout}
}

func (t *Timeline) SessionStateChanged(change domain.StateChange) {
	if change.SessionID == "" {
		return
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	err = t.store.AppendEvent(ctx, Event{
		SessionID: change.SessionID,
		Type:      "state." + string(change.State),
		Payload:   payload,
		CreatedAt: change.At,
	})
	if err != nil {
		t.log.Warn("record state change failed",
			slog.String("session_id", change.SessionID),
			slog.String("error", err.Error()))
	}
}

func (t *Timeline) TranscriptChanged(domain.TranscriptUpdate) {}

func (t *Timeline) ElapsedTick(domain.Tick) {}
