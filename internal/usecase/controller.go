package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shortnotes/internal/domain"
	"shortnotes/internal/ports"
	"shortnotes/internal/transcript"
)

var (
	ErrNoActiveSession = errors.New("no active recording session")
	ErrBusy            = errors.New("recording session is starting or stopping")
)

// Config controls recording behavior.
type Config struct {
	Locale       string
	TickInterval time.Duration
	Detect       transcript.Detect
	StoreTimeout time.Duration
}

// SessionController owns the recording state machine: it gates start on permission and
// connectivity, drives one recognizer stream at a time and reconciles its partials.
//
// Sinks are called from controller goroutines and must not call back into the controller
// synchronously.
type SessionController struct {
	permission   ports.PermissionProvider
	connectivity ports.ConnectivityProbe
	recognizer   ports.SpeechRecognizer
	store        ports.TranscriptStore
	events       ports.EventSink
	cfg          Config
	log          *slog.Logger
	metrics      controllerMetrics
	tracer       trace.Tracer
	clock        func() time.Time
	newID        func() string

	// transitionMu serializes state transitions with their notifications.
	transitionMu sync.Mutex

	mu      sync.Mutex
	state   domain.SessionState
	current *activeSession
	last    *domain.SessionResult
}

func NewSessionController(
	permission ports.PermissionProvider,
	connectivity ports.ConnectivityProbe,
	recognizer ports.SpeechRecognizer,
	store ports.TranscriptStore,
	events ports.EventSink,
	logger *slog.Logger,
	cfg Config,
) *SessionController {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.Detect == 0 {
		cfg.Detect = transcript.DetectBoth
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionController{
		permission:   permission,
		connectivity: connectivity,
		recognizer:   recognizer,
		store:        store,
		events:       events,
		cfg:          cfg,
		log:          logger,
		metrics:      newControllerMetrics(),
		tracer:       otel.Tracer(instrumentationName),
		clock:        time.Now,
		newID:        uuid.NewString,
		state:        domain.SessionStateIdle,
	}
}

// ToggleRecording starts a session when idle and stops it when recording. While a
// session is starting or stopping it returns ErrBusy and changes nothing.
func (c *SessionController) ToggleRecording(ctx context.Context) error {
	switch c.Status().State {
	case domain.SessionStateIdle:
		return c.Start(ctx)
	case domain.SessionStateRecording:
		return c.Stop()
	default:
		return ErrBusy
	}
}

// Start runs the start sequence. It returns once the recognizer stream is running or a
// precondition failed; in the latter case the controller is idle again.
func (c *SessionController) Start(ctx context.Context) error {
	c.transitionMu.Lock()
	if !c.transition(nil, domain.SessionStateRequesting, domain.SessionStateIdle) {
		c.transitionMu.Unlock()
		return ErrBusy
	}
	c.publishState("", domain.SessionStateRequesting, domain.SessionReasonRequestingPermission, "")
	c.transitionMu.Unlock()

	if err := c.checkPreconditions(ctx); err != nil {
		return err
	}

	// The stream outlives the caller's context; only the handle stops it.
	handle := newCancellationHandle(context.WithoutCancel(ctx))
	stream, err := c.recognizer.Stream(handle.ctx, c.cfg.Locale)
	if err != nil {
		handle.release()
		c.log.Warn("recognizer stream failed to start", slog.String("error", err.Error()))
		c.abortStart(domain.SessionReasonRecognitionFailed, err.Error())
		return fmt.Errorf("start recognition: %w", err)
	}

	active := newActiveSession(c.newID(), c.cfg.Locale, handle, stream, c.cfg.Detect, c.clock())
	_, active.span = c.tracer.Start(context.WithoutCancel(ctx), "recording.session",
		trace.WithAttributes(
			attribute.String("session.id", active.id),
			attribute.String("session.locale", active.locale),
		))

	c.transitionMu.Lock()
	c.transition(active, domain.SessionStateRecording, domain.SessionStateRequesting)
	c.publishState(active.id, domain.SessionStateRecording, domain.SessionReasonRecordingStarted, "")
	c.transitionMu.Unlock()

	c.metrics.sessionStarted(ctx, active.locale)
	c.log.Info("recording started", slog.String("session_id", active.id), slog.String("locale", active.locale))

	c.publishTick(active)
	go c.runTicker(active)
	go c.consume(active)
	return nil
}

// Stop runs the stop sequence: it moves to stopping and signals the session's handle.
// The session resolves once the stream unwinds; use Wait to block on that.
func (c *SessionController) Stop() error {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	state, active := c.state, c.current
	c.mu.Unlock()

	if state == domain.SessionStateIdle {
		return ErrNoActiveSession
	}
	if active == nil || !c.transition(active, domain.SessionStateStopping, domain.SessionStateRecording) {
		return ErrBusy
	}

	c.publishState(active.id, domain.SessionStateStopping, domain.SessionReasonStopRequested, "")
	active.handle.Signal()
	return nil
}

// Wait blocks until the current session resolves and returns its result. When no
// session is active it returns the most recent result, or ErrNoActiveSession.
func (c *SessionController) Wait(ctx context.Context) (domain.SessionResult, error) {
	c.mu.Lock()
	active, last := c.current, c.last
	c.mu.Unlock()

	if active == nil {
		if last != nil {
			return *last, nil
		}
		return domain.SessionResult{}, ErrNoActiveSession
	}

	select {
	case <-active.done:
		return active.result, nil
	case <-ctx.Done():
		return domain.SessionResult{}, ctx.Err()
	}
}

// Close stops any active session and waits for it to unwind.
func (c *SessionController) Close(ctx context.Context) error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNoActiveSession) && !errors.Is(err, ErrBusy) {
		return err
	}
	_, err := c.Wait(ctx)
	if errors.Is(err, ErrNoActiveSession) {
		return nil
	}
	return err
}

// PublishReady announces an idle controller to the sinks, typically once after wiring.
// It reports false and publishes nothing while a session is in progress.
func (c *SessionController) PublishReady() bool {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	if c.Status().State != domain.SessionStateIdle {
		return false
	}
	c.publishState("", domain.SessionStateIdle, domain.SessionReasonReady, "")
	return true
}

// Status returns the current controller status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{State: c.state, Active: c.state != domain.SessionStateIdle}
	if c.current != nil {
		status.SessionID = c.current.id
	}
	return status
}

func (c *SessionController) checkPreconditions(ctx context.Context) error {
	granted, err := c.permission.Request(ctx)
	if err != nil {
		c.log.Warn("permission request failed", slog.String("error", err.Error()))
	}
	if err != nil || !granted {
		c.abortStart(domain.SessionReasonPermissionDenied, domain.ErrPermissionDenied.Error())
		return domain.ErrPermissionDenied
	}

	if !c.connectivity.IsOnline(ctx) {
		c.abortStart(domain.SessionReasonOffline, domain.ErrOffline.Error())
		return domain.ErrOffline
	}
	return nil
}

func (c *SessionController) abortStart(reason domain.SessionStateReason, message string) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()
	c.transition(nil, domain.SessionStateIdle, domain.SessionStateRequesting)
	c.publishState("", domain.SessionStateIdle, reason, message)
}

// transition is the single place the state field changes. It moves to `to` only from one
// of the listed states and reports whether it did.
func (c *SessionController) transition(active *activeSession, to domain.SessionState, from ...domain.SessionState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	allowed := false
	for _, state := range from {
		if c.state == state {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	c.state = to
	if to.Streaming() {
		c.current = active
	} else {
		c.current = nil
	}
	return true
}

func (c *SessionController) consume(active *activeSession) {
	ctx := trace.ContextWithSpan(context.Background(), active.span)
	for partial := range active.stream.Partials() {
		commits := active.reconciler.Commits()
		output := active.reconciler.Apply(partial)
		c.metrics.partialApplied(ctx, active.reconciler.Commits() > commits)

		c.events.TranscriptChanged(domain.TranscriptUpdate{
			SessionID: active.id,
			Output:    output,
			Sequence:  active.reconciler.Applied(),
		})
	}

	c.finish(active, active.stream.Wait())
}

func (c *SessionController) finish(active *activeSession, streamErr error) {
	signaled := active.handle.Signaled()
	active.handle.release()
	active.stopTicker()

	final := active.reconciler.Finish()
	result := domain.SessionResult{
		SessionID:  active.id,
		Locale:     active.locale,
		Transcript: final,
		Reason:     domain.SessionReasonRecordingStopped,
		Partials:   active.reconciler.Applied(),
		StartedAt:  active.startedAt,
		EndedAt:    c.clock(),
	}

	switch {
	case signaled:
		if streamErr != nil {
			c.log.Debug("stream ended with error after stop", slog.String("session_id", active.id), slog.String("error", streamErr.Error()))
		}
	case streamErr == nil:
		result.Reason = domain.SessionReasonRecognitionFailed
		result.Error = domain.ErrStreamEnded.Error()
	default:
		result.Reason = domain.SessionReasonRecognitionFailed
		result.Error = streamErr.Error()
	}

	if result.Reason == domain.SessionReasonRecognitionFailed {
		c.log.Warn("recognition failed", slog.String("session_id", active.id), slog.String("error", result.Error))
		active.span.SetStatus(codes.Error, result.Error)
	} else {
		c.log.Info("recording stopped", slog.String("session_id", active.id), slog.Int("partials", result.Partials))
	}

	c.saveResult(result)
	ctx := trace.ContextWithSpan(context.Background(), active.span)
	c.metrics.sessionFinished(ctx, result)
	active.span.SetAttributes(
		attribute.String("session.reason", string(result.Reason)),
		attribute.Int("session.partials", result.Partials),
	)
	active.span.End()

	c.transitionMu.Lock()
	c.transition(nil, domain.SessionStateIdle, domain.SessionStateRecording, domain.SessionStateStopping)
	c.mu.Lock()
	c.last = &result
	c.mu.Unlock()

	c.events.TranscriptChanged(domain.TranscriptUpdate{
		SessionID: active.id,
		Output:    final,
		Sequence:  result.Partials,
		Final:     true,
	})
	c.publishState(active.id, domain.SessionStateIdle, result.Reason, result.Error)
	c.transitionMu.Unlock()

	active.complete(result)
}

func (c *SessionController) saveResult(result domain.SessionResult) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()
	if err := c.store.SaveResult(ctx, result); err != nil {
		c.log.Warn("failed to save session result", slog.String("session_id", result.SessionID), slog.String("error", err.Error()))
	}
}

func (c *SessionController) publishState(sessionID string, state domain.SessionState, reason domain.SessionStateReason, message string) {
	c.events.SessionStateChanged(domain.StateChange{
		SessionID: sessionID,
		State:     state,
		Reason:    reason,
		Message:   message,
		At:        c.clock(),
	})
}
