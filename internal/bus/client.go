package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"shortnotes/internal/config"
)

// Client wraps a NATS connection.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials the configured servers. When an embedded server is running its URL is
// used instead.
func Connect(ctx context.Context, cfg config.BusConfig, embedded *EmbeddedServer, log *slog.Logger) (*Client, error) {
	servers := cfg.Servers
	if url := embedded.ClientURL(); url != "" {
		servers = []string{url}
	}
	if len(servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	timeout := time.Duration(cfg.ConnectTimeout) * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && (timeout <= 0 || remaining < timeout) {
			timeout = remaining
		}
	}

	options := []nats.Option{
		nats.Name("shortnotes"),
	}
	if timeout > 0 {
		options = append(options, nats.Timeout(timeout))
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))
	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}
