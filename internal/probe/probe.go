// Package probe answers the controller's start preconditions.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"shortnotes/internal/ports"
)

// AudioPermission grants access when the audio source can actually be opened. The probe
// stream is closed right away.
type AudioPermission struct {
	source ports.AudioSource
	log    *slog.Logger
}

func NewAudioPermission(source ports.AudioSource, logger *slog.Logger) *AudioPermission {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioPermission{source: source, log: logger}
}

func (p *AudioPermission) Request(ctx context.Context) (bool, error) {
	reader, err := p.source.Open(ctx)
	if err != nil {
		p.log.Warn("audio source unavailable", slog.String("error", err.Error()))
		return false, nil
	}
	if err := reader.Close(); err != nil {
		p.log.Debug("closing permission probe", slog.String("error", err.Error()))
	}
	return true, nil
}

// StaticPermission always returns the same answer.
type StaticPermission bool

func (p StaticPermission) Request(context.Context) (bool, error) {
	return bool(p), nil
}

// DialProbe reports the recognizer as online when a TCP connection to it succeeds.
type DialProbe struct {
	address string
	timeout time.Duration
	dialer  net.Dialer
}

// NewDialProbe accepts either host:port or a URL; URLs without a port use the scheme's
// default. An empty target yields a probe that is always online.
func NewDialProbe(target string, timeout time.Duration) (*DialProbe, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	address, err := dialAddress(target)
	if err != nil {
		return nil, err
	}
	return &DialProbe{address: address, timeout: timeout}, nil
}

func (p *DialProbe) Address() string {
	return p.address
}

func (p *DialProbe) IsOnline(ctx context.Context) bool {
	if p.address == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func dialAddress(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", nil
	}
	if !strings.Contains(target, "://") {
		if _, _, err := net.SplitHostPort(target); err != nil {
			return "", fmt.Errorf("invalid probe address %q: %w", target, err)
		}
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid probe url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("probe url %q has no host", target)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		case "http", "ws":
			port = "80"
		default:
			return "", fmt.Errorf("probe url %q has no port", target)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
