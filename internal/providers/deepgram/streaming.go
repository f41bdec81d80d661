package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"shortnotes/internal/ports"
	"shortnotes/internal/recognition"
)

const providerName = "deepgram"

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

// Recognizer implements ports.SpeechRecognizer for the Deepgram live listen API.
type Recognizer struct {
	cfg    Config
	source ports.AudioSource
	dialer *websocket.Dialer
}

func NewRecognizer(cfg Config, source ports.AudioSource) *Recognizer {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Recognizer{cfg: cfg, source: source, dialer: websocket.DefaultDialer}
}

// Stream opens a live session. The configured language wins over locale.
func (r *Recognizer) Stream(ctx context.Context, locale string) (ports.RecognitionStream, error) {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	language := r.cfg.Language
	if language == "" {
		language = locale
	}
	wsURL, err := buildListenURL(r.cfg, r.source.Config(), language)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	utt := &utterance{}
	stream, err := recognition.DialWebsocket(ctx, r.dialer, recognition.Dialect{
		Provider: providerName,
		URL:      wsURL,
		Header:   headers,
		End:      []byte(`{"type":"CloseStream"}`),
		Decode:   utt.decode,
	}, r.source)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// utterance rebuilds full-utterance snapshots from Deepgram's incremental results: finalized
// segments accumulate until speech_final, and each interim result is appended to them.
type utterance struct {
	segments []string
	open     bool
}

func (u *utterance) emit(emit func(string), snapshot string) {
	u.open = true
	emit(snapshot)
}

func (u *utterance) end(emit func(string)) {
	if u.open {
		emit("")
	}
	u.segments = nil
	u.open = false
}

func (u *utterance) snapshot(interim string) string {
	parts := make([]string, 0, len(u.segments)+1)
	parts = append(parts, u.segments...)
	if interim != "" {
		parts = append(parts, interim)
	}
	return strings.Join(parts, " ")
}

func (u *utterance) decode(payload []byte, emit func(string)) error {
	var response deepgramResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return nil
	}

	switch {
	case strings.EqualFold(response.Type, "Error"):
		message := strings.TrimSpace(response.Message)
		if message == "" {
			message = "deepgram returned an unknown error"
		}
		return errors.New(message)
	case strings.EqualFold(response.Type, "UtteranceEnd"):
		u.end(emit)
		return nil
	}

	text := extractTranscript(response)
	if !response.IsFinal && !response.SpeechFinal {
		if text != "" {
			u.emit(emit, u.snapshot(text))
		}
		return nil
	}

	if text != "" {
		u.segments = append(u.segments, text)
	}
	if response.SpeechFinal {
		if snapshot := u.snapshot(""); snapshot != "" {
			u.emit(emit, snapshot)
		}
		u.end(emit)
		return nil
	}
	if text != "" {
		u.emit(emit, u.snapshot(""))
	}
	return nil
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(providerCfg Config, audio ports.AudioConfig, language string) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if audio.SampleRate <= 0 {
		audio.SampleRate = 16000
	}
	if audio.Channels <= 0 {
		audio.Channels = 1
	}
	query := listenURL.Query()
	query.Set("model", providerCfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", audio.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", audio.Channels))
	query.Set("interim_results", "true")
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	if language != "" {
		query.Set("language", language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
