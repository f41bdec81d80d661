package domain

import (
	"errors"
	"fmt"
	"time"
)

// SessionState models the recording lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateRequesting SessionState = "requesting"
	SessionStateRecording  SessionState = "recording"
	SessionStateStopping   SessionState = "stopping"
)

// Streaming reports whether a recognizer stream is active in this state.
func (s SessionState) Streaming() bool {
	return s == SessionStateRecording || s == SessionStateStopping
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady                SessionStateReason = "ready"
	SessionReasonRequestingPermission SessionStateReason = "requesting_permission"
	SessionReasonPermissionDenied     SessionStateReason = "permission_denied"
	SessionReasonOffline              SessionStateReason = "offline"
	SessionReasonRecordingStarted     SessionStateReason = "recording_started"
	SessionReasonStopRequested        SessionStateReason = "stop_requested"
	SessionReasonRecordingStopped     SessionStateReason = "recording_stopped"
	SessionReasonRecognitionFailed    SessionStateReason = "recognition_failed"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrOffline          = errors.New("speech recognition service is unreachable")
	ErrStreamEnded      = errors.New("recognition stream ended unexpectedly")
)

// RecognitionError is a transport or provider failure reported by a recognizer.
type RecognitionError struct {
	Provider string
	Message  string
	Err      error
}

func (e *RecognitionError) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// NewRecognitionError wraps err as a provider failure.
func NewRecognitionError(provider string, err error) *RecognitionError {
	if err == nil {
		return nil
	}
	return &RecognitionError{Provider: provider, Message: err.Error(), Err: err}
}

// StateChange is published on every session transition.
type StateChange struct {
	SessionID string             `json:"sessionId,omitempty"`
	State     SessionState       `json:"state"`
	Reason    SessionStateReason `json:"reason"`
	Message   string             `json:"message,omitempty"`
	At        time.Time          `json:"at"`
}

// TranscriptUpdate carries the reconciled transcript after each partial.
type TranscriptUpdate struct {
	SessionID string `json:"sessionId"`
	Output    string `json:"output"`
	Sequence  int    `json:"sequence"`
	Final     bool   `json:"final"`
}

// Tick is the advisory elapsed-time event published once per interval while recording.
type Tick struct {
	SessionID string        `json:"sessionId"`
	Elapsed   time.Duration `json:"elapsed"`
	Display   string        `json:"display"`
}

// FormatElapsed renders d as HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// SessionResult is the outcome of one finished recording session.
type SessionResult struct {
	SessionID  string             `json:"sessionId"`
	Locale     string             `json:"locale"`
	Transcript string             `json:"transcript"`
	Reason     SessionStateReason `json:"reason"`
	Error      string             `json:"error,omitempty"`
	Partials   int                `json:"partials"`
	StartedAt  time.Time          `json:"startedAt"`
	EndedAt    time.Time          `json:"endedAt"`
}

// Elapsed returns the wall duration of the session.
func (r SessionResult) Elapsed() time.Duration {
	if r.EndedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Status summarizes the current controller status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
}
