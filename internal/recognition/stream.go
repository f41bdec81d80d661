// Package recognition holds the plumbing shared by recognizer adapters: the partials stream
// handed to the session controller, the audio pump and the websocket session.
package recognition

import (
	"context"
	"sync"
)

const defaultBuffer = 64

// Stream implements ports.RecognitionStream. Adapters emit snapshots into it from their read
// loop, record the first failure with SetErr and call Finish once every goroutine is done.
type Stream struct {
	partials chan string
	done     chan struct{}

	errMu sync.Mutex
	err   error

	finishOnce sync.Once
}

func NewStream() *Stream {
	return &Stream{
		partials: make(chan string, defaultBuffer),
		done:     make(chan struct{}),
	}
}

// Emit delivers partial in order. It never drops a partial; it gives up only when ctx is
// done, which happens when the session is being torn down.
func (s *Stream) Emit(ctx context.Context, partial string) bool {
	select {
	case s.partials <- partial:
		return true
	case <-ctx.Done():
		return false
	}
}

// SetErr records err if no earlier failure was recorded.
func (s *Stream) SetErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Finish closes the partials channel. No Emit may follow it.
func (s *Stream) Finish() {
	s.finishOnce.Do(func() {
		close(s.partials)
		close(s.done)
	})
}

func (s *Stream) Partials() <-chan string {
	return s.partials
}

func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until Finish and returns the recorded failure.
func (s *Stream) Wait() error {
	<-s.done
	return s.Err()
}
