package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server exposes health, readiness and metrics over HTTP.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
	done   chan struct{}
}

// NewServer builds the operational mux. ready reports whether the process can take a new
// recording.
func NewServer(bind string, metrics http.Handler, ready func() bool, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready == nil || ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	return &Server{
		srv: &http.Server{
			Addr:              bind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Handler returns the mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens on the bind address and serves in the background.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("http server started", slog.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}
