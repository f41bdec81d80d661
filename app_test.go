package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"shortnotes/internal/config"
	"shortnotes/internal/domain"
	"shortnotes/internal/ports"
	"shortnotes/internal/probe"
	"shortnotes/internal/recognition"
	"shortnotes/internal/store"
	"shortnotes/internal/usecase"
)

func TestReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionStateReason]string{
		domain.SessionReasonReady:                "Ready",
		domain.SessionReasonRequestingPermission: "Requesting microphone access",
		domain.SessionReasonPermissionDenied:     "Microphone permission denied",
		domain.SessionReasonOffline:              "Speech recognition is offline",
		domain.SessionReasonRecordingStarted:     "Recording started",
		domain.SessionReasonStopRequested:        "Stopping",
		domain.SessionReasonRecordingStopped:     "Recording stopped",
		domain.SessionReasonRecognitionFailed:    "Recognition failed",
	}

	for reason, want := range cases {
		reason := reason
		want := want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := reasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := reasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := NewApp(&bytes.Buffer{})
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StartRecording(context.Background()); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from start, got %v", err)
	}
	if info := app.RuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("unexpected info: %v", info)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	status := NewApp(&bytes.Buffer{}).GetStatus()
	if status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestAppRendersSessionEvents(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	app := NewApp(&out)

	app.SessionStateChanged(domain.StateChange{SessionID: "s1", State: domain.SessionStateRecording, Reason: domain.SessionReasonRecordingStarted})
	app.TranscriptChanged(domain.TranscriptUpdate{SessionID: "s1", Output: "hello. \nwor", Sequence: 2})
	app.ElapsedTick(domain.Tick{SessionID: "s1", Elapsed: time.Second, Display: "00:00:01"})
	app.TranscriptChanged(domain.TranscriptUpdate{SessionID: "s1", Output: "hello. \nworld", Final: true})
	app.SessionStateChanged(domain.StateChange{
		SessionID: "s1",
		State:     domain.SessionStateIdle,
		Reason:    domain.SessionReasonRecognitionFailed,
		Message:   "vosk: connection reset",
	})

	got := out.String()
	for _, want := range []string{
		"* Recording started\n",
		"[00:00:00] wor",
		"[00:00:01] wor",
		"hello. \nworld\n",
		"* Recognition failed: vosk: connection reset\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%q", want, got)
		}
	}
}

func TestLastLineAndIndent(t *testing.T) {
	t.Parallel()

	if got := lastLine("one. \ntwo"); got != "two" {
		t.Fatalf("unexpected last line: %q", got)
	}
	if got := lastLine("one. \n"); got != "one. " {
		t.Fatalf("unexpected last line for trailing newline: %q", got)
	}
	if got := indent("a. \nb"); got != "  a.\n  b" {
		t.Fatalf("unexpected indent: %q", got)
	}
}

func TestAppToggleStopDoesNotWaitForStream(t *testing.T) {
	t.Parallel()

	var out lockedBuffer
	app := NewApp(&out)
	recognizer := &manualRecognizer{stream: recognition.NewStream()}
	controller := usecase.NewSessionController(
		probe.StaticPermission(true),
		alwaysOnline(t),
		recognizer,
		nil,
		app,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		usecase.Config{TickInterval: time.Hour},
	)
	app.attach(controller, nil, config.Config{})

	ctx := context.Background()
	if err := app.ToggleRecording(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	recognizer.stream.Emit(ctx, "draft note")

	done := make(chan error, 1)
	go func() { done <- app.ToggleRecording(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("toggle blocked while the stream was still running")
	}
	if state := app.GetStatus().State; state != domain.SessionStateStopping {
		t.Fatalf("expected stopping, got %s", state)
	}
	if err := app.RequestStop(); !errors.Is(err, usecase.ErrBusy) {
		t.Fatalf("expected busy while stopping, got %v", err)
	}

	recognizer.stream.Finish()
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	result, err := controller.Wait(waitCtx)
	if err != nil || result.Transcript != "draft note" {
		t.Fatalf("unexpected result: %+v %v", result, err)
	}
	if got := out.String(); !strings.Contains(got, "draft note\n") || !strings.Contains(got, "* Recording stopped\n") {
		t.Fatalf("expected final transcript and stop notice in output:\n%q", got)
	}
}

func TestAppPrintSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	history, err := store.Open(ctx, config.StoreConfig{
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionMode: "persistent",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer history.Close()

	ended := time.Now()
	if err := history.SaveResult(ctx, domain.SessionResult{
		SessionID:  "s1",
		Locale:     "en-US",
		Transcript: "first. \nsecond",
		Reason:     domain.SessionReasonRecordingStopped,
		StartedAt:  ended.Add(-65 * time.Second),
		EndedAt:    ended,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	timeline := store.NewTimeline(history, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	timeline.SessionStateChanged(domain.StateChange{SessionID: "s1", State: domain.SessionStateRecording, At: ended.Add(-65 * time.Second)})

	var out bytes.Buffer
	app := NewApp(&out)
	app.history = history

	if err := app.PrintSession(ctx, "s1"); err != nil {
		t.Fatalf("print session: %v", err)
	}
	got := out.String()
	for _, want := range []string{"session:  s1", "duration: 00:01:05", "result:   Recording stopped", "state.recording", "  first.\n  second"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}

	if err := app.PrintSession(ctx, "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

type manualRecognizer struct {
	stream *recognition.Stream
}

func (m *manualRecognizer) Stream(context.Context, string) (ports.RecognitionStream, error) {
	return m.stream, nil
}

func alwaysOnline(t *testing.T) *probe.DialProbe {
	t.Helper()
	p, err := probe.NewDialProbe("", 0)
	if err != nil {
		t.Fatalf("connectivity check: %v", err)
	}
	return p
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
