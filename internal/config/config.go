package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the recorder.
type Config struct {
	Session    SessionConfig    `yaml:"session"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Audio      AudioConfig      `yaml:"audio"`
	Probe      ProbeConfig      `yaml:"probe"`
	Bus        BusConfig        `yaml:"bus"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Store      StoreConfig      `yaml:"store"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type SessionConfig struct {
	Locale           string `yaml:"locale"`
	TickIntervalMS   int    `yaml:"tick_interval_ms"`
	SilenceDetection string `yaml:"silence_detection"`
	StoreTimeoutMS   int    `yaml:"store_timeout_ms"`
}

func (c SessionConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

func (c SessionConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

type RecognizerConfig struct {
	Provider string         `yaml:"provider"` // vosk, deepgram, exec
	Vosk     VoskConfig     `yaml:"vosk"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Exec     ExecConfig     `yaml:"exec"`
}

type VoskConfig struct {
	ServerURL string `yaml:"server_url"`
}

type DeepgramConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base_url"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	SmartFormat bool   `yaml:"smart_format"`
}

type ExecConfig struct {
	Command string `yaml:"command"`
}

type AudioConfig struct {
	Source          string `yaml:"source"` // recorder, file
	File            string `yaml:"file"`
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunk_size"`
}

type ProbeConfig struct {
	Permission string `yaml:"permission"` // audio, granted, denied
	// ConnectivityTarget defaults to the recognizer endpoint when empty.
	ConnectivityTarget string `yaml:"connectivity_target"`
	TimeoutMS          int    `yaml:"timeout_ms"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

type MirrorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
	HTTPBind     string `yaml:"http_bind"`
}

// Default returns the configuration used when no file or environment overrides are given.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	dataDir := filepath.Join(home, ".local", "share", "shortnotes")

	return Config{
		Session: SessionConfig{
			Locale:         "en-US",
			TickIntervalMS: 1000,
			StoreTimeoutMS: 5000,
		},
		Recognizer: RecognizerConfig{
			Provider: "vosk",
			Vosk:     VoskConfig{ServerURL: "ws://localhost:2700"},
			Deepgram: DeepgramConfig{
				APIBaseURL:  "https://api.deepgram.com/v1",
				Model:       "nova-2",
				SmartFormat: true,
			},
		},
		Audio: AudioConfig{
			Source:          "recorder",
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
		},
		Probe: ProbeConfig{
			Permission: "audio",
			TimeoutMS:  2000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "shortnotes",
		},
		Mirror: MirrorConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			KeyPrefix:  "shortnotes:session:",
			TTLSeconds: 3600,
		},
		Store: StoreConfig{
			Path:          filepath.Join(dataDir, "history.db"),
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxSessions:   500,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "shortnotes",
			LogLevel:     "info",
			OTLPInsecure: true,
		},
	}, nil
}

// DefaultSilenceDetection picks the boundary signals for a provider when none is configured.
// Deepgram sends explicit utterance boundaries and revises interim text to shorter
// snapshots mid-utterance, so only empty partials count as silence there.
func DefaultSilenceDetection(provider string) string {
	if provider == "deepgram" {
		return "empty"
	}
	return "both"
}

// Load resolves configuration from defaults, an optional YAML file and SHORTNOTES_*
// environment variables, in that order.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Recognizer.Deepgram.APIKey = firstNonEmpty(cfg.Recognizer.Deepgram.APIKey, os.Getenv("DEEPGRAM_API_KEY"))
	if strings.TrimSpace(cfg.Session.SilenceDetection) == "" {
		cfg.Session.SilenceDetection = DefaultSilenceDetection(cfg.Recognizer.Provider)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Session.Locale, "SHORTNOTES_SESSION_LOCALE")
	overrideInt(&cfg.Session.TickIntervalMS, "SHORTNOTES_SESSION_TICK_INTERVAL_MS")
	overrideString(&cfg.Session.SilenceDetection, "SHORTNOTES_SESSION_SILENCE_DETECTION")
	overrideInt(&cfg.Session.StoreTimeoutMS, "SHORTNOTES_SESSION_STORE_TIMEOUT_MS")
	overrideString(&cfg.Recognizer.Provider, "SHORTNOTES_RECOGNIZER_PROVIDER")
	overrideString(&cfg.Recognizer.Vosk.ServerURL, "SHORTNOTES_RECOGNIZER_VOSK_SERVER_URL")
	overrideString(&cfg.Recognizer.Deepgram.APIKey, "SHORTNOTES_RECOGNIZER_DEEPGRAM_API_KEY")
	overrideString(&cfg.Recognizer.Deepgram.APIBaseURL, "SHORTNOTES_RECOGNIZER_DEEPGRAM_API_BASE_URL")
	overrideString(&cfg.Recognizer.Deepgram.Model, "SHORTNOTES_RECOGNIZER_DEEPGRAM_MODEL")
	overrideString(&cfg.Recognizer.Deepgram.Language, "SHORTNOTES_RECOGNIZER_DEEPGRAM_LANGUAGE")
	overrideBool(&cfg.Recognizer.Deepgram.SmartFormat, "SHORTNOTES_RECOGNIZER_DEEPGRAM_SMART_FORMAT")
	overrideString(&cfg.Recognizer.Exec.Command, "SHORTNOTES_RECOGNIZER_EXEC_COMMAND")
	overrideString(&cfg.Audio.Source, "SHORTNOTES_AUDIO_SOURCE")
	overrideString(&cfg.Audio.File, "SHORTNOTES_AUDIO_FILE")
	overrideString(&cfg.Audio.RecorderCommand, "SHORTNOTES_AUDIO_RECORDER_COMMAND")
	overrideString(&cfg.Audio.InputFormat, "SHORTNOTES_AUDIO_INPUT_FORMAT")
	overrideString(&cfg.Audio.InputDevice, "SHORTNOTES_AUDIO_INPUT_DEVICE")
	overrideInt(&cfg.Audio.SampleRate, "SHORTNOTES_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "SHORTNOTES_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.ChunkSize, "SHORTNOTES_AUDIO_CHUNK_SIZE")
	overrideString(&cfg.Probe.Permission, "SHORTNOTES_PROBE_PERMISSION")
	overrideString(&cfg.Probe.ConnectivityTarget, "SHORTNOTES_PROBE_CONNECTIVITY_TARGET")
	overrideInt(&cfg.Probe.TimeoutMS, "SHORTNOTES_PROBE_TIMEOUT_MS")
	overrideBool(&cfg.Bus.Enabled, "SHORTNOTES_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SHORTNOTES_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SHORTNOTES_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SHORTNOTES_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SHORTNOTES_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SHORTNOTES_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SHORTNOTES_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "SHORTNOTES_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "SHORTNOTES_BUS_SUBJECT_PREFIX")
	overrideBool(&cfg.Mirror.Enabled, "SHORTNOTES_MIRROR_ENABLED")
	overrideString(&cfg.Mirror.Addr, "SHORTNOTES_MIRROR_ADDR")
	overrideString(&cfg.Mirror.Password, "SHORTNOTES_MIRROR_PASSWORD")
	overrideInt(&cfg.Mirror.DB, "SHORTNOTES_MIRROR_DB")
	overrideString(&cfg.Mirror.KeyPrefix, "SHORTNOTES_MIRROR_KEY_PREFIX")
	overrideInt(&cfg.Mirror.TTLSeconds, "SHORTNOTES_MIRROR_TTL_SECONDS")
	overrideString(&cfg.Store.Path, "SHORTNOTES_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "SHORTNOTES_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "SHORTNOTES_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "SHORTNOTES_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "SHORTNOTES_STORE_VACUUM_ON_START")
	overrideString(&cfg.Telemetry.ServiceName, "SHORTNOTES_TELEMETRY_SERVICE_NAME")
	overrideString(&cfg.Telemetry.LogLevel, "SHORTNOTES_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SHORTNOTES_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SHORTNOTES_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "SHORTNOTES_TELEMETRY_STDOUT_TRACES")
	overrideString(&cfg.Telemetry.HTTPBind, "SHORTNOTES_TELEMETRY_HTTP_BIND")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func validate(cfg Config) error {
	if cfg.Session.TickIntervalMS <= 0 {
		return errors.New("session.tick_interval_ms must be positive")
	}
	switch strings.ToLower(cfg.Session.SilenceDetection) {
	case "", "both", "empty", "shrink":
	default:
		return errors.New("session.silence_detection must be one of both|empty|shrink")
	}

	switch cfg.Recognizer.Provider {
	case "vosk":
		if cfg.Recognizer.Vosk.ServerURL == "" {
			return errors.New("recognizer.vosk.server_url must be set when provider=vosk")
		}
	case "deepgram":
		if cfg.Recognizer.Deepgram.APIKey == "" {
			return errors.New("recognizer.deepgram.api_key (or DEEPGRAM_API_KEY) must be set when provider=deepgram")
		}
	case "exec":
		if cfg.Recognizer.Exec.Command == "" {
			return errors.New("recognizer.exec.command must be set when provider=exec")
		}
	default:
		return errors.New("recognizer.provider must be one of vosk|deepgram|exec")
	}

	switch cfg.Audio.Source {
	case "recorder":
	case "file":
		if cfg.Audio.File == "" {
			return errors.New("audio.file must be set when source=file")
		}
	default:
		return errors.New("audio.source must be one of recorder|file")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}

	switch cfg.Probe.Permission {
	case "audio", "granted", "denied":
	default:
		return errors.New("probe.permission must be one of audio|granted|denied")
	}

	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
	}
	if cfg.Mirror.Enabled && cfg.Mirror.Addr == "" {
		return errors.New("mirror.addr must be set when the mirror is enabled")
	}

	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionMode != "ephemeral" && cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Store.MaxSessions < 0 {
		return errors.New("store.max_sessions must be >= 0")
	}
	return nil
}
