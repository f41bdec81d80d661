package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"shortnotes/internal/domain"
	"shortnotes/internal/ports"
	"shortnotes/internal/transcript"
)

// cancellationHandle authorizes exactly one recognizer stream to be stopped. A new handle
// is allocated for every session, so signaling a stale one never reaches a later stream.
type cancellationHandle struct {
	ctx      context.Context
	cancel   context.CancelFunc
	signaled atomic.Bool
}

func newCancellationHandle(parent context.Context) *cancellationHandle {
	ctx, cancel := context.WithCancel(parent)
	return &cancellationHandle{ctx: ctx, cancel: cancel}
}

// Signal requests a cooperative stop.
func (h *cancellationHandle) Signal() {
	h.signaled.Store(true)
	h.cancel()
}

// Signaled reports whether the controller asked the stream to stop.
func (h *cancellationHandle) Signaled() bool {
	return h.signaled.Load()
}

// release frees the context without recording a stop request.
func (h *cancellationHandle) release() {
	h.cancel()
}

type activeSession struct {
	id        string
	locale    string
	handle    *cancellationHandle
	stream    ports.RecognitionStream
	startedAt time.Time
	span      trace.Span

	// reconciler is only touched by the consume goroutine.
	reconciler *transcript.Reconciler

	tickMu   sync.Mutex
	ticking  bool
	tickStop chan struct{}

	done   chan struct{}
	result domain.SessionResult
}

func newActiveSession(id, locale string, handle *cancellationHandle, stream ports.RecognitionStream, detect transcript.Detect, startedAt time.Time) *activeSession {
	return &activeSession{
		id:         id,
		locale:     locale,
		handle:     handle,
		stream:     stream,
		startedAt:  startedAt,
		reconciler: transcript.NewReconciler(detect),
		ticking:    true,
		tickStop:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// stopTicker guarantees no tick is published after it returns.
func (s *activeSession) stopTicker() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if !s.ticking {
		return
	}
	s.ticking = false
	close(s.tickStop)
}

func (s *activeSession) complete(result domain.SessionResult) {
	s.result = result
	close(s.done)
}
