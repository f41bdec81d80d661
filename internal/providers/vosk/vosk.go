// Package vosk streams audio to a Vosk websocket server.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"shortnotes/internal/ports"
	"shortnotes/internal/recognition"
)

const providerName = "vosk"

type Config struct {
	ServerURL string
}

// Recognizer implements ports.SpeechRecognizer against a Vosk server. The model, and so the
// language, is fixed by the server; locale is sent along for servers that pick a model by it.
type Recognizer struct {
	cfg    Config
	source ports.AudioSource
	dialer *websocket.Dialer
}

func NewRecognizer(cfg Config, source ports.AudioSource) *Recognizer {
	return &Recognizer{cfg: cfg, source: source, dialer: websocket.DefaultDialer}
}

func (r *Recognizer) Stream(ctx context.Context, locale string) (ports.RecognitionStream, error) {
	if strings.TrimSpace(r.cfg.ServerURL) == "" {
		return nil, errors.New("vosk server url is not configured")
	}

	audio := r.source.Config()
	if audio.SampleRate <= 0 {
		audio.SampleRate = 16000
	}
	wsURL, err := buildURL(r.cfg.ServerURL, audio.SampleRate, locale)
	if err != nil {
		return nil, err
	}

	start, err := json.Marshal(configMessage{Config: streamConfig{SampleRate: audio.SampleRate}})
	if err != nil {
		return nil, err
	}

	stream, err := recognition.DialWebsocket(ctx, r.dialer, recognition.Dialect{
		Provider: providerName,
		URL:      wsURL,
		Start:    start,
		End:      []byte(`{"eof" : 1}`),
		Decode:   decode,
	}, r.source)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

type configMessage struct {
	Config streamConfig `json:"config"`
}

type streamConfig struct {
	SampleRate int `json:"sample_rate"`
}

// result carries either a running partial or the final text of an utterance.
type result struct {
	Partial *string `json:"partial"`
	Text    *string `json:"text"`
}

// decode maps Vosk results onto snapshots: a partial replaces the current utterance and a
// final text is the utterance's last snapshot followed by a boundary.
func decode(payload []byte, emit func(string)) error {
	var res result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil
	}

	switch {
	case res.Text != nil:
		if text := strings.TrimSpace(*res.Text); text != "" {
			emit(text)
		}
		emit("")
	case res.Partial != nil:
		emit(strings.TrimSpace(*res.Partial))
	}
	return nil
}

func buildURL(serverURL string, sampleRate int, locale string) (string, error) {
	base := strings.TrimSpace(serverURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid vosk server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid vosk server url scheme %q", u.Scheme)
	}

	query := u.Query()
	query.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	if locale != "" {
		query.Set("locale", locale)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
