package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"shortnotes/internal/bootstrap"
	"shortnotes/internal/config"
	"shortnotes/internal/domain"
	"shortnotes/internal/telemetry"
	"shortnotes/internal/usecase"
)

var version = "0.1.0-dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "shortnotes:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
		showInfo    bool
		history     int
		show        string
		duration    time.Duration
	)

	flag.StringVar(&configPath, "config", os.Getenv("SHORTNOTES_CONFIG"), "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&showInfo, "info", false, "Print the resolved runtime settings and exit")
	flag.IntVar(&history, "history", 0, "Print the N most recent sessions and exit")
	flag.StringVar(&show, "show", "", "Print one session with its state timeline and exit")
	flag.DurationVar(&duration, "duration", 0, "Record once for this long, print the transcript and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger(os.Stderr, cfg.Telemetry.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer shutdown(logger, "telemetry", tel.Shutdown)

	var wired atomic.Pointer[bootstrap.Services]
	if cfg.Telemetry.HTTPBind != "" {
		ready := func() bool { return wired.Load().Ready() }
		srv := telemetry.NewServer(cfg.Telemetry.HTTPBind, tel.MetricsHandler(), ready, logger)
		if _, err := srv.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
		defer shutdown(logger, "http server", srv.Shutdown)
	}

	app := NewApp(os.Stdout)
	services, err := bootstrap.Build(ctx, cfg, logger, app)
	if err != nil {
		app.bootErr = err
		return err
	}
	defer shutdown(logger, "services", services.Close)
	app.attach(services.Controller, services.History, cfg)
	wired.Store(services)

	switch {
	case showInfo:
		printInfo(app)
		return nil
	case history > 0:
		return app.PrintHistory(ctx, history)
	case show != "":
		return app.PrintSession(ctx, show)
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	if duration > 0 {
		return recordOnce(ctx, app, duration, signals)
	}
	return interactive(ctx, app, signals)
}

// recordOnce records for d, or until a signal arrives or the session ends by itself.
func recordOnce(ctx context.Context, app *App, d time.Duration, signals <-chan os.Signal) error {
	if _, err := app.StartRecording(ctx); err != nil {
		return err
	}

	ended := make(chan struct{})
	go func() {
		_, _ = app.controller.Wait(ctx)
		close(ended)
	}()

	select {
	case <-time.After(d):
	case <-signals:
	case <-ended:
	}

	result, err := app.StopRecording(ctx)
	if err != nil {
		return err
	}
	if result.Reason == domain.SessionReasonRecognitionFailed {
		return fmt.Errorf("recognition failed: %s", result.Error)
	}
	return nil
}

// interactive toggles recording on each Enter. An interrupt while recording requests a
// stop; any other interrupt, q, or end of input exits.
func interactive(ctx context.Context, app *App, signals <-chan os.Signal) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	app.printf("Press Enter to start or stop recording, q to quit.\n")
	for {
		select {
		case line, ok := <-lines:
			if !ok || line == "q" || line == "quit" {
				return nil
			}
			if err := app.ToggleRecording(ctx); err != nil && !expected(err) {
				app.printf("! %v\n", err)
			}
		case <-signals:
			if app.GetStatus().State != domain.SessionStateRecording {
				return nil
			}
			if err := app.RequestStop(); err != nil && !expected(err) {
				app.printf("! %v\n", err)
			}
		}
	}
}

// expected reports errors already surfaced through state notifications.
func expected(err error) bool {
	return errors.Is(err, usecase.ErrBusy) ||
		errors.Is(err, domain.ErrPermissionDenied) ||
		errors.Is(err, domain.ErrOffline)
}

func printInfo(app *App) {
	info := app.RuntimeInfo()
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		app.printf("%s: %s\n", k, info[k])
	}
}

func shutdown(logger *slog.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Error(name+" shutdown error", slog.String("error", err.Error()))
	}
}
