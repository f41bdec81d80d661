// Package transcript folds a recognizer's overlapping partial snapshots into one
// growing transcript.
//
// A recognizer resends its complete guess for the current utterance on every update and
// starts over after a silence boundary. A boundary is either an explicit empty partial or,
// when the recognizer restarts without announcing it, a partial shorter than the one
// before. At a boundary the pending utterance moves into the committed text, which is
// never revised again.
package transcript

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SentenceSeparator is appended to committed text at every silence boundary.
const SentenceSeparator = ". \n"

// Detect selects which signals count as a silence boundary.
type Detect uint8

const (
	DetectEmpty Detect = 1 << iota
	DetectShrink

	DetectBoth = DetectEmpty | DetectShrink
)

// ParseDetect maps a config value to a Detect mode.
func ParseDetect(value string) (Detect, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "both":
		return DetectBoth, nil
	case "empty":
		return DetectEmpty, nil
	case "shrink":
		return DetectShrink, nil
	default:
		return 0, fmt.Errorf("unknown silence detection mode %q", value)
	}
}

func (d Detect) String() string {
	switch d {
	case DetectEmpty:
		return "empty"
	case DetectShrink:
		return "shrink"
	case DetectBoth:
		return "both"
	default:
		return fmt.Sprintf("detect(%d)", uint8(d))
	}
}

// State is an immutable reconciliation snapshot. The zero value is an empty transcript
// that treats both signals as boundaries.
type State struct {
	Committed string
	Pending   string

	detect Detect
}

// NewState returns an empty state using the given boundary signals.
func NewState(detect Detect) State {
	return State{detect: detect}
}

func (s State) mode() Detect {
	if s.detect == 0 {
		return DetectBoth
	}
	return s.detect
}

// Output is the only externally visible value: committed text followed by the pending guess.
func (s State) Output() string {
	return s.Committed + s.Pending
}

// Apply folds one partial into the state and returns the new state with its output.
func (s State) Apply(partial string) (State, string) {
	mode := s.mode()
	switch {
	case partial == "":
		// An empty partial is also shorter than any pending text.
		if mode&DetectEmpty != 0 || (mode&DetectShrink != 0 && s.Pending != "") {
			s = s.commit()
		}
	case mode&DetectShrink != 0 && utf8.RuneCountInString(partial) < utf8.RuneCountInString(s.Pending):
		s = s.commit()
		s.Pending = partial
	default:
		s.Pending = partial
	}
	return s, s.Output()
}

// Finish flushes the pending utterance into committed text as-is, without a separator.
func (s State) Finish() State {
	s.Committed += s.Pending
	s.Pending = ""
	return s
}

// IsBoundary reports whether partial would commit the pending text.
func (s State) IsBoundary(partial string) bool {
	mode := s.mode()
	if partial == "" {
		return mode&(DetectEmpty|DetectShrink) != 0 && s.Pending != ""
	}
	return mode&DetectShrink != 0 && utf8.RuneCountInString(partial) < utf8.RuneCountInString(s.Pending)
}

func (s State) commit() State {
	s.Committed += s.Pending
	s.Pending = ""
	if s.Committed != "" && !strings.HasSuffix(s.Committed, "\n") {
		s.Committed += SentenceSeparator
	}
	return s
}

// Reconciler holds the state for one session. It is not safe for concurrent use; the
// session that owns it applies partials from a single goroutine in arrival order.
type Reconciler struct {
	state   State
	applied int
	commits int
}

func NewReconciler(detect Detect) *Reconciler {
	return &Reconciler{state: NewState(detect)}
}

// Apply folds partial into the transcript and returns the new output.
func (r *Reconciler) Apply(partial string) string {
	if r.state.IsBoundary(partial) {
		r.commits++
	}
	next, output := r.state.Apply(partial)
	r.state = next
	r.applied++
	return output
}

// Finish flushes the pending utterance and returns the final output.
func (r *Reconciler) Finish() string {
	r.state = r.state.Finish()
	return r.state.Output()
}

func (r *Reconciler) Snapshot() State {
	return r.state
}

func (r *Reconciler) Output() string {
	return r.state.Output()
}

// Applied returns the number of partials folded so far.
func (r *Reconciler) Applied() int {
	return r.applied
}

// Commits returns the number of boundaries that moved pending text into committed text.
func (r *Reconciler) Commits() int {
	return r.commits
}
