package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"shortnotes/internal/ports"
)

func TestNewRecognizerDefaults(t *testing.T) {
	t.Parallel()

	r := NewRecognizer(Config{}, &pcmSource{})
	if r.cfg.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", r.cfg.APIBaseURL)
	}
	if r.cfg.Model != "nova-2" {
		t.Fatalf("unexpected model: %q", r.cfg.Model)
	}
}

func TestRecognizerStreamRequiresAPIKey(t *testing.T) {
	t.Parallel()

	r := NewRecognizer(Config{APIKey: ""}, &pcmSource{})
	if _, err := r.Stream(context.Background(), "en-US"); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestBuildListenURLDefaults(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{APIBaseURL: "https://api.deepgram.com/v1", Model: "nova-2"}, ports.AudioConfig{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"wss://api.deepgram.com/v1/listen",
		"encoding=linear16",
		"sample_rate=16000",
		"channels=1",
		"interim_results=true",
	} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %q in url: %s", want, url)
		}
	}
	if strings.Contains(url, "language=") {
		t.Fatalf("expected no language in url: %s", url)
	}
}

func TestBuildListenURLWithLanguageAndSmartFormat(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(
		Config{APIBaseURL: "http://localhost:8080/v1", Model: "m", SmartFormat: true},
		ports.AudioConfig{SampleRate: 8000, Channels: 2},
		"uk-UA",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(url, "ws://localhost:8080/v1/listen") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	if !strings.Contains(url, "language=uk-UA") {
		t.Fatalf("expected language in url: %s", url)
	}
	if !strings.Contains(url, "smart_format=true") || !strings.Contains(url, "sample_rate=8000") {
		t.Fatalf("unexpected query: %s", url)
	}
}

func TestBuildListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	if _, err := buildListenURL(Config{APIBaseURL: ":// bad"}, ports.AudioConfig{}, ""); err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestExtractTranscript(t *testing.T) {
	t.Parallel()

	var r1 deepgramResponse
	if err := jsonDecode(`{"channel":{"alternatives":[{"transcript":" channel "}]}}`, &r1); err != nil {
		t.Fatal(err)
	}
	if got := extractTranscript(r1); got != "channel" {
		t.Fatalf("unexpected transcript from channel: %q", got)
	}

	var r2 deepgramResponse
	if err := jsonDecode(`{"results":{"channels":[{"alternatives":[{"transcript":"results"}]}]}}`, &r2); err != nil {
		t.Fatal(err)
	}
	if got := extractTranscript(r2); got != "results" {
		t.Fatalf("unexpected transcript from results: %q", got)
	}

	if got := extractTranscript(deepgramResponse{}); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestUtteranceDecodeBuildsSnapshots(t *testing.T) {
	t.Parallel()

	var got []string
	emit := func(p string) { got = append(got, p) }
	u := &utterance{}

	for _, msg := range []string{
		result("hel", false, false),
		result("hello there", false, false),
		result("hello there", true, false),
		result("how", false, false),
		result("how are you", true, true),
		`not json`,
		result("next", false, false),
		`{"type":"UtteranceEnd"}`,
		`{"type":"UtteranceEnd"}`,
	} {
		if err := u.decode([]byte(msg), emit); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
	}

	want := []string{
		"hel",
		"hello there",
		"hello there",
		"hello there how",
		"hello there how are you",
		"",
		"next",
		"",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected snapshots:\n got %q\nwant %q", got, want)
	}
}

func TestUtteranceDecodeUtteranceEndAfterFinalSegment(t *testing.T) {
	t.Parallel()

	var got []string
	u := &utterance{}
	_ = u.decode([]byte(result("done", true, false)), func(p string) { got = append(got, p) })
	_ = u.decode([]byte(`{"type":"UtteranceEnd"}`), func(p string) { got = append(got, p) })

	if strings.Join(got, "|") != "done|" {
		t.Fatalf("unexpected snapshots: %q", got)
	}
}

func TestUtteranceDecodeErrorMessage(t *testing.T) {
	t.Parallel()

	u := &utterance{}
	err := u.decode([]byte(`{"type":"Error","message":"bad audio"}`), func(string) {})
	if err == nil || err.Error() != "bad audio" {
		t.Fatalf("expected provider error, got %v", err)
	}
	err = u.decode([]byte(`{"type":"Error"}`), func(string) {})
	if err == nil || !strings.Contains(err.Error(), "unknown error") {
		t.Fatalf("expected default error message, got %v", err)
	}
}

func TestRecognizerStreamAgainstFakeServer(t *testing.T) {
	t.Parallel()

	authorization := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage && strings.Contains(string(payload), "CloseStream") {
				break
			}
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(result("hi", false, false)))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(result("hi there", true, true)))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	r := NewRecognizer(Config{APIKey: "secret", APIBaseURL: srv.URL + "/v1"}, &pcmSource{data: make([]byte, 2048)})
	stream, err := r.Stream(context.Background(), "en-US")
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var got []string
	for p := range stream.Partials() {
		got = append(got, p)
	}
	if err := stream.Wait(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if strings.Join(got, "|") != "hi|hi there|" {
		t.Fatalf("unexpected snapshots: %q", got)
	}
	if auth := <-authorization; auth != "Token secret" {
		t.Fatalf("unexpected authorization header: %q", auth)
	}
}

func result(text string, isFinal, speechFinal bool) string {
	var b strings.Builder
	b.WriteString(`{"type":"Results","is_final":`)
	b.WriteString(boolString(isFinal))
	b.WriteString(`,"speech_final":`)
	b.WriteString(boolString(speechFinal))
	b.WriteString(`,"channel":{"alternatives":[{"transcript":"`)
	b.WriteString(text)
	b.WriteString(`"}]}}`)
	return b.String()
}

func jsonDecode(payload string, out any) error {
	return json.Unmarshal([]byte(payload), out)
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

type pcmSource struct {
	data []byte
}

func (p *pcmSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.data)), nil
}

func (p *pcmSource) Config() ports.AudioConfig {
	return ports.AudioConfig{SampleRate: 16000, Channels: 1}
}
