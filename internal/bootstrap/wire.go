package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shortnotes/internal/audio"
	"shortnotes/internal/bus"
	"shortnotes/internal/config"
	"shortnotes/internal/mirror"
	"shortnotes/internal/notify"
	"shortnotes/internal/ports"
	"shortnotes/internal/probe"
	"shortnotes/internal/providers/deepgram"
	"shortnotes/internal/providers/execstt"
	"shortnotes/internal/providers/vosk"
	"shortnotes/internal/store"
	"shortnotes/internal/transcript"
	"shortnotes/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	History    *store.Store
	Config     config.Config

	bus     *bus.Client
	busURL  string
	closers []func(context.Context) error
}

// Ready reports whether the graph can take a recording: the controller is wired and the
// notification bus, when enabled, is connected.
func (s *Services) Ready() bool {
	if s == nil || s.Controller == nil {
		return false
	}
	return s.bus == nil || s.bus.Healthy()
}

// Close releases everything Build started, in reverse order.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Controller != nil {
		if err := s.Controller.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Build wires all backend dependencies for cfg. Extra sinks receive controller
// notifications alongside the configured ones.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, extra ...ports.EventSink) (_ *Services, err error) {
	services := &Services{Config: cfg}
	defer func() {
		if err != nil {
			_ = services.Close(context.Background())
		}
	}()

	source, err := buildAudioSource(cfg.Audio)
	if err != nil {
		return nil, err
	}

	recognizer, err := buildRecognizer(cfg.Recognizer, source)
	if err != nil {
		return nil, err
	}

	permission, err := buildPermission(cfg.Probe, source, logger)
	if err != nil {
		return nil, err
	}

	connectivity, err := probe.NewDialProbe(connectivityTarget(cfg), time.Duration(cfg.Probe.TimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}

	history, err := store.Open(ctx, cfg.Store, logger.With(slog.String("component", "history")))
	if err != nil {
		return nil, err
	}
	services.History = history
	services.closers = append(services.closers, func(context.Context) error { return history.Close() })

	sinks := notify.Fanout{
		notify.NewLogSink(logger.With(slog.String("component", "events"))),
		store.NewTimeline(history, logger, cfg.Session.StoreTimeout()),
	}

	busSink, err := buildBus(ctx, services, cfg.Bus, logger)
	if err != nil {
		return nil, err
	}
	if busSink != nil {
		sinks = append(sinks, busSink)
	}

	if cfg.Mirror.Enabled {
		client := mirror.NewClient(cfg.Mirror)
		sink := mirror.NewSink(client, cfg.Mirror.KeyPrefix, time.Duration(cfg.Mirror.TTLSeconds)*time.Second,
			logger.With(slog.String("component", "mirror")))
		sinks = append(sinks, sink)
		services.closers = append(services.closers, func(context.Context) error {
			sink.Close()
			return client.Close()
		})
	}

	sinks = append(sinks, extra...)

	silence := cfg.Session.SilenceDetection
	if silence == "" {
		silence = config.DefaultSilenceDetection(cfg.Recognizer.Provider)
	}
	detect, err := transcript.ParseDetect(silence)
	if err != nil {
		return nil, err
	}

	services.Controller = usecase.NewSessionController(
		permission,
		connectivity,
		recognizer,
		history,
		sinks,
		logger.With(slog.String("component", "controller")),
		usecase.Config{
			Locale:       cfg.Session.Locale,
			TickInterval: cfg.Session.TickInterval(),
			Detect:       detect,
			StoreTimeout: cfg.Session.StoreTimeout(),
		},
	)
	services.Controller.PublishReady()

	return services, nil
}

func buildAudioSource(cfg config.AudioConfig) (ports.AudioSource, error) {
	switch cfg.Source {
	case "", "recorder":
		return audio.NewRecorder(audio.RecorderConfig{
			Command:     cfg.RecorderCommand,
			InputFormat: cfg.InputFormat,
			InputDevice: cfg.InputDevice,
			SampleRate:  cfg.SampleRate,
			Channels:    cfg.Channels,
			ChunkSize:   cfg.ChunkSize,
		}), nil
	case "file":
		return audio.NewFile(cfg.File, cfg.SampleRate, cfg.Channels, cfg.ChunkSize), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", cfg.Source)
	}
}

func buildRecognizer(cfg config.RecognizerConfig, source ports.AudioSource) (ports.SpeechRecognizer, error) {
	switch cfg.Provider {
	case "vosk":
		return vosk.NewRecognizer(vosk.Config{ServerURL: cfg.Vosk.ServerURL}, source), nil
	case "deepgram":
		return deepgram.NewRecognizer(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		}, source), nil
	case "exec":
		return execstt.NewRecognizer(cfg.Exec.Command, source)
	default:
		return nil, fmt.Errorf("unknown recognizer provider %q", cfg.Provider)
	}
}

func buildPermission(cfg config.ProbeConfig, source ports.AudioSource, logger *slog.Logger) (ports.PermissionProvider, error) {
	switch cfg.Permission {
	case "", "audio":
		return probe.NewAudioPermission(source, logger.With(slog.String("component", "permission"))), nil
	case "granted":
		return probe.StaticPermission(true), nil
	case "denied":
		return probe.StaticPermission(false), nil
	default:
		return nil, fmt.Errorf("unknown permission mode %q", cfg.Permission)
	}
}

// connectivityTarget falls back to the recognizer endpoint. Local exec recognizers are
// always considered online.
func connectivityTarget(cfg config.Config) string {
	if cfg.Probe.ConnectivityTarget != "" {
		return cfg.Probe.ConnectivityTarget
	}
	switch cfg.Recognizer.Provider {
	case "vosk":
		return cfg.Recognizer.Vosk.ServerURL
	case "deepgram":
		return cfg.Recognizer.Deepgram.APIBaseURL
	default:
		return ""
	}
}

func buildBus(ctx context.Context, services *Services, cfg config.BusConfig, logger *slog.Logger) (ports.EventSink, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	busLog := logger.With(slog.String("component", "bus"))

	embedded, err := bus.StartEmbedded(cfg, busLog)
	if err != nil {
		return nil, err
	}
	services.closers = append(services.closers, func(context.Context) error {
		embedded.Shutdown()
		return nil
	})

	services.busURL = embedded.ClientURL()

	client, err := bus.Connect(ctx, cfg, embedded, busLog)
	if err != nil {
		return nil, err
	}
	services.bus = client
	services.closers = append(services.closers, func(context.Context) error {
		client.Close()
		return nil
	})

	return bus.NewSink(client.Conn(), cfg.SubjectPrefix, busLog), nil
}
