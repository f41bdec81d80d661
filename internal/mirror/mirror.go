// Package mirror keeps a live copy of each session in Redis, one hash per session, so other
// processes can show the transcript while it is being recorded.
package mirror

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"shortnotes/internal/config"
	"shortnotes/internal/domain"
)

const queueSize = 256

// hashWriter is the subset of the Redis client the sink uses.
type hashWriter interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// NewClient builds the Redis client for cfg.
func NewClient(cfg config.MirrorConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

type write struct {
	key    string
	values []interface{}
}

// Sink writes notifications from a single goroutine in arrival order. When Redis falls behind
// and the queue fills up, updates are dropped rather than stalling the controller.
type Sink struct {
	client  hashWriter
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan write
	done   chan struct{}
}

func NewSink(client hashWriter, prefix string, ttl time.Duration, log *slog.Logger) *Sink {
	s := &Sink{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		timeout: 800 * time.Millisecond,
		log:     log,
		queue:   make(chan write, queueSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Key returns the hash key for a session.
func (s *Sink) Key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Sink) SessionStateChanged(change domain.StateChange) {
	if change.SessionID == "" {
		return
	}
	s.enqueue(change.SessionID,
		"state", string(change.State),
		"reason", string(change.Reason),
		"message", change.Message,
		"updated_at", change.At.UTC().Format(time.RFC3339Nano),
	)
}

func (s *Sink) TranscriptChanged(update domain.TranscriptUpdate) {
	s.enqueue(update.SessionID,
		"output", update.Output,
		"sequence", strconv.Itoa(update.Sequence),
		"final", strconv.FormatBool(update.Final),
	)
}

func (s *Sink) ElapsedTick(tick domain.Tick) {
	s.enqueue(tick.SessionID, "elapsed", tick.Display)
}

// Close flushes queued writes and stops the writer.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) enqueue(sessionID string, values ...interface{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- write{key: s.Key(sessionID), values: values}:
	default:
		s.log.Warn("mirror queue full, dropping update", slog.String("session_id", sessionID))
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for w := range s.queue {
		s.apply(w)
	}
}

func (s *Sink) apply(w write) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.HSet(ctx, w.key, w.values...).Err(); err != nil {
		s.log.Warn("redis HSET failed", slog.String("key", w.key), slog.String("error", err.Error()))
		return
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, w.key, s.ttl).Err(); err != nil {
			s.log.Warn("redis EXPIRE failed", slog.String("key", w.key), slog.String("error", err.Error()))
		}
	}
}
