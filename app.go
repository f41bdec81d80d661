package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"shortnotes/internal/config"
	"shortnotes/internal/domain"
	"shortnotes/internal/store"
	"shortnotes/internal/usecase"
)

// App is the terminal front end. It renders controller notifications and forwards
// user commands to the controller.
type App struct {
	out io.Writer

	controller *usecase.SessionController
	history    *store.Store
	cfg        config.Config
	bootErr    error

	mu       sync.Mutex
	liveLine string
	elapsed  string
}

func NewApp(out io.Writer) *App {
	return &App{out: out, elapsed: domain.FormatElapsed(0)}
}

func (a *App) attach(controller *usecase.SessionController, history *store.Store, cfg config.Config) {
	a.controller = controller
	a.history = history
	a.cfg = cfg
}

// ToggleRecording starts or stops recording depending on the current state. A stop
// returns once requested; the final transcript arrives through the notifications.
func (a *App) ToggleRecording(ctx context.Context) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.ToggleRecording(ctx)
}

// RequestStop asks an active session to stop without waiting for it to unwind.
func (a *App) RequestStop() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Stop()
}

// StartRecording starts a session.
func (a *App) StartRecording(ctx context.Context) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(ctx); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StopRecording stops the session and waits for its final transcript.
func (a *App) StopRecording(ctx context.Context) (domain.SessionResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionResult{}, err
	}
	// Busy here means a stop is already underway.
	err := a.controller.Stop()
	if err != nil && !errors.Is(err, usecase.ErrNoActiveSession) && !errors.Is(err, usecase.ErrBusy) {
		return domain.SessionResult{}, err
	}
	return a.controller.Wait(ctx)
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		return domain.Status{State: domain.SessionStateIdle}
	}
	return a.controller.Status()
}

// PrintHistory writes the most recent finished sessions.
func (a *App) PrintHistory(ctx context.Context, limit int) error {
	if a.history == nil {
		return errors.New("history store is not available")
	}
	results, err := a.history.ListResults(ctx, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		a.printf("no recorded sessions\n")
		return nil
	}
	for _, r := range results {
		a.printf("%s  %s  %s  %s\n", r.EndedAt.Local().Format("2006-01-02 15:04:05"),
			domain.FormatElapsed(r.Elapsed()), r.SessionID, reasonMessage(r.Reason))
		if text := strings.TrimSpace(r.Transcript); text != "" {
			a.printf("%s\n", indent(text))
		}
		if r.Error != "" {
			a.printf("  error: %s\n", r.Error)
		}
	}
	return nil
}

// PrintSession writes one finished session followed by its state timeline.
func (a *App) PrintSession(ctx context.Context, sessionID string) error {
	if a.history == nil {
		return errors.New("history store is not available")
	}
	result, err := a.history.GetResult(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return err
	}
	events, err := a.history.ListEvents(ctx, sessionID, 0)
	if err != nil {
		return err
	}

	a.printf("session:  %s\nlocale:   %s\nstarted:  %s\nduration: %s\nresult:   %s\n",
		result.SessionID, result.Locale,
		result.StartedAt.Local().Format("2006-01-02 15:04:05"),
		domain.FormatElapsed(result.Elapsed()), reasonMessage(result.Reason))
	if result.Error != "" {
		a.printf("error:    %s\n", result.Error)
	}
	for _, e := range events {
		a.printf("  %s  %s\n", e.CreatedAt.Local().Format("15:04:05.000"), e.Type)
	}
	if text := strings.TrimSpace(result.Transcript); text != "" {
		a.printf("%s\n", indent(text))
	}
	return nil
}

// RuntimeInfo returns non-sensitive config for display.
func (a *App) RuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	info := map[string]string{
		"provider":         a.cfg.Recognizer.Provider,
		"locale":           a.cfg.Session.Locale,
		"silenceDetection": a.cfg.Session.SilenceDetection,
		"audioSource":      a.cfg.Audio.Source,
		"historyRetention": a.cfg.Store.RetentionMode,
	}
	switch a.cfg.Recognizer.Provider {
	case "deepgram":
		info["model"] = a.cfg.Recognizer.Deepgram.Model
	case "vosk":
		info["server"] = a.cfg.Recognizer.Vosk.ServerURL
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged prints lifecycle updates.
func (a *App) SessionStateChanged(change domain.StateChange) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if change.State == domain.SessionStateRecording {
		a.liveLine = ""
		a.elapsed = domain.FormatElapsed(0)
	}
	a.clearLiveLocked()

	message := reasonMessage(change.Reason)
	if message == "" {
		message = string(change.State)
	}
	if change.Message != "" && change.Reason != domain.SessionReasonRequestingPermission {
		message += ": " + change.Message
	}
	fmt.Fprintf(a.out, "* %s\n", message)
}

// TranscriptChanged redraws the live line; the final transcript is printed in full.
func (a *App) TranscriptChanged(update domain.TranscriptUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if update.Final {
		a.clearLiveLocked()
		a.liveLine = ""
		if text := strings.TrimSpace(update.Output); text != "" {
			fmt.Fprintf(a.out, "%s\n", text)
		}
		return
	}
	a.liveLine = lastLine(update.Output)
	a.renderLiveLocked()
}

// ElapsedTick updates the timer shown in front of the live line.
func (a *App) ElapsedTick(tick domain.Tick) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.elapsed = tick.Display
	a.renderLiveLocked()
}

func (a *App) renderLiveLocked() {
	fmt.Fprintf(a.out, "\r\033[K[%s] %s", a.elapsed, a.liveLine)
}

func (a *App) clearLiveLocked() {
	fmt.Fprint(a.out, "\r\033[K")
}

func (a *App) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func reasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonRequestingPermission:
		return "Requesting microphone access"
	case domain.SessionReasonPermissionDenied:
		return "Microphone permission denied"
	case domain.SessionReasonOffline:
		return "Speech recognition is offline"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonStopRequested:
		return "Stopping"
	case domain.SessionReasonRecordingStopped:
		return "Recording stopped"
	case domain.SessionReasonRecognitionFailed:
		return "Recognition failed"
	default:
		return ""
	}
}

func lastLine(text string) string {
	text = strings.TrimRight(text, "\n")
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return text[i+1:]
	}
	return text
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "  " + strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
