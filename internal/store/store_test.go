package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"shortnotes/internal/config"
	"shortnotes/internal/domain"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func persistentConfig(t *testing.T) config.StoreConfig {
	t.Helper()
	return config.StoreConfig{
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionMode: "persistent",
	}
}

func result(id string, ended time.Time, text string) domain.SessionResult {
	return domain.SessionResult{
		SessionID:  id,
		Locale:     "en-US",
		Transcript: text,
		Reason:     domain.SessionReasonRecordingStopped,
		Partials:   3,
		StartedAt:  ended.Add(-5 * time.Second),
		EndedAt:    ended,
	}
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.SaveResult(ctx, result("s1", time.Now(), "hi")); err != nil {
		t.Fatalf("save should be a no-op: %v", err)
	}
	results, err := s.ListResults(ctx, 10)
	if err != nil || len(results) != 0 {
		t.Fatalf("expected no results, got %v %v", results, err)
	}
	if _, err := s.GetResult(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveAndQueryResults(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, persistentConfig(t), newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.SaveResult(ctx, result("old", base, "first note")); err != nil {
		t.Fatalf("save: %v", err)
	}
	failed := result("new", base.Add(time.Minute), "second. \nnote")
	failed.Reason = domain.SessionReasonRecognitionFailed
	failed.Error = "vosk: connection reset"
	if err := s.SaveResult(ctx, failed); err != nil {
		t.Fatalf("save: %v", err)
	}

	results, err := s.ListResults(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(results) != 2 || results[0].SessionID != "new" || results[1].SessionID != "old" {
		t.Fatalf("unexpected order: %+v", results)
	}

	got, err := s.GetResult(ctx, "new")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Transcript != "second. \nnote" || got.Error != "vosk: connection reset" || got.Reason != domain.SessionReasonRecognitionFailed {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !got.EndedAt.Equal(base.Add(time.Minute)) || got.Elapsed() != 5*time.Second {
		t.Fatalf("unexpected timestamps: %+v", got)
	}

	if _, err := s.GetResult(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveResultReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, persistentConfig(t), newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	now := time.Now()
	_ = s.SaveResult(ctx, result("s1", now, "draft"))
	_ = s.SaveResult(ctx, result("s1", now, "final"))

	results, err := s.ListResults(ctx, 10)
	if err != nil || len(results) != 1 || results[0].Transcript != "final" {
		t.Fatalf("expected a single replaced result, got %+v %v", results, err)
	}
}

func TestTimelineRecordsStateChanges(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, persistentConfig(t), newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	tl := NewTimeline(s, newLogger(), 0)
	at := time.Now()
	tl.SessionStateChanged(domain.StateChange{State: domain.SessionStateIdle, Reason: domain.SessionReasonReady, At: at})
	tl.SessionStateChanged(domain.StateChange{SessionID: "s1", State: domain.SessionStateRecording, Reason: domain.SessionReasonRecordingStarted, At: at})
	tl.SessionStateChanged(domain.StateChange{SessionID: "s1", State: domain.SessionStateIdle, Reason: domain.SessionReasonRecordingStopped, At: at.Add(time.Second)})
	tl.TranscriptChanged(domain.TranscriptUpdate{SessionID: "s1", Output: "ignored"})

	events, err := s.ListEvents(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Type != "state.recording" || events[1].Type != "state.idle" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestOpenSessionModeClearsHistory(t *testing.T) {
	ctx := context.Background()
	cfg := persistentConfig(t)

	s, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.SaveResult(ctx, result("s1", time.Now(), "kept until restart"))
	_ = s.Close()

	cfg.RetentionMode = "session"
	s, err = Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	results, err := s.ListResults(ctx, 10)
	if err != nil || len(results) != 0 {
		t.Fatalf("expected cleared history, got %+v %v", results, err)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	ctx := context.Background()
	cfg := persistentConfig(t)
	cfg.RetentionDays = 7
	cfg.MaxSessions = 2

	s, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	_ = s.SaveResult(ctx, result("ancient", now.Add(-30*24*time.Hour), "a"))
	_ = s.AppendEvent(ctx, Event{SessionID: "ancient", Type: "state.idle", CreatedAt: now.Add(-30 * 24 * time.Hour)})
	for i, id := range []string{"s1", "s2", "s3"} {
		_ = s.SaveResult(ctx, result(id, now.Add(time.Duration(i-3)*time.Hour), id))
		_ = s.AppendEvent(ctx, Event{SessionID: id, Type: "state.idle"})
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	results, err := s.ListResults(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(results) != 2 || results[0].SessionID != "s3" || results[1].SessionID != "s2" {
		t.Fatalf("unexpected results after prune: %+v", results)
	}
	for _, id := range []string{"ancient", "s1"} {
		events, err := s.ListEvents(ctx, id, 10)
		if err != nil || len(events) != 0 {
			t.Fatalf("expected events for %s to be pruned, got %+v %v", id, events, err)
		}
	}
}
