package ports

import (
	"context"
	"io"

	"shortnotes/internal/domain"
)

// PermissionProvider asks the platform for microphone access.
type PermissionProvider interface {
	Request(ctx context.Context) (bool, error)
}

// ConnectivityProbe reports whether the recognizer backend is reachable.
type ConnectivityProbe interface {
	IsOnline(ctx context.Context) bool
}

// AudioConfig describes the PCM format handed to recognizers.
type AudioConfig struct {
	SampleRate int
	Channels   int
	ChunkSize  int
	Realtime   bool
}

// AudioSource opens a fresh PCM s16le stream for one session.
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Config() AudioConfig
}

// RecognitionStream is one live recognizer stream.
//
// Partials yields full snapshots of the current utterance; an empty string marks an
// utterance boundary. The channel is closed once the stream has unwound, after which
// Wait returns nil for a cancelled stream or the provider failure otherwise.
type RecognitionStream interface {
	Partials() <-chan string
	Wait() error
}

// SpeechRecognizer starts streaming recognition. Cancelling ctx stops the stream.
type SpeechRecognizer interface {
	Stream(ctx context.Context, locale string) (RecognitionStream, error)
}

// EventSink receives controller notifications for the UI layer.
type EventSink interface {
	SessionStateChanged(change domain.StateChange)
	TranscriptChanged(update domain.TranscriptUpdate)
	ElapsedTick(tick domain.Tick)
}

// TranscriptStore persists finished session results.
type TranscriptStore interface {
	SaveResult(ctx context.Context, result domain.SessionResult) error
}
