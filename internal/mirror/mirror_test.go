package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"shortnotes/internal/config"
	"shortnotes/internal/domain"
)

func TestSinkWritesSessionHash(t *testing.T) {
	t.Parallel()

	client := &fakeRedis{}
	sink := NewSink(client, "notes:", time.Hour, discardLogger())

	sink.SessionStateChanged(domain.StateChange{State: domain.SessionStateRequesting})
	sink.SessionStateChanged(domain.StateChange{SessionID: "s1", State: domain.SessionStateRecording, Reason: domain.SessionReasonRecordingStarted})
	sink.TranscriptChanged(domain.TranscriptUpdate{SessionID: "s1", Output: "hello", Sequence: 1})
	sink.ElapsedTick(domain.Tick{SessionID: "s1", Display: "00:00:01"})
	sink.Close()

	hash := client.hash("notes:s1")
	if hash["state"] != "recording" || hash["reason"] != "recording_started" {
		t.Fatalf("unexpected state fields: %+v", hash)
	}
	if hash["output"] != "hello" || hash["sequence"] != "1" || hash["final"] != "false" {
		t.Fatalf("unexpected transcript fields: %+v", hash)
	}
	if hash["elapsed"] != "00:00:01" {
		t.Fatalf("unexpected elapsed field: %+v", hash)
	}
	if len(client.keys()) != 1 {
		t.Fatalf("expected sessionless transitions to be skipped, got keys %v", client.keys())
	}
	if client.expiry("notes:s1") != time.Hour {
		t.Fatalf("expected ttl to be refreshed")
	}
}

func TestSinkKeepsGoingAfterRedisErrors(t *testing.T) {
	t.Parallel()

	client := &fakeRedis{err: errors.New("connection refused")}
	sink := NewSink(client, "notes:", 0, discardLogger())
	sink.TranscriptChanged(domain.TranscriptUpdate{SessionID: "s1", Output: "a"})
	sink.TranscriptChanged(domain.TranscriptUpdate{SessionID: "s1", Output: "ab"})
	sink.Close()
	sink.Close()

	if client.calls() != 2 {
		t.Fatalf("expected both writes to be attempted, got %d", client.calls())
	}
}

func TestSinkAgainstRedis(t *testing.T) {
	addr := os.Getenv("SHORTNOTES_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SHORTNOTES_TEST_REDIS_ADDR not set")
	}

	client := NewClient(config.MirrorConfig{Addr: addr})
	defer client.Close()

	sink := NewSink(client, "shortnotes:test:", time.Minute, discardLogger())
	sink.TranscriptChanged(domain.TranscriptUpdate{SessionID: "it", Output: "live text"})
	sink.Close()

	got, err := client.HGet(context.Background(), sink.Key("it"), "output").Result()
	if err != nil || got != "live text" {
		t.Fatalf("unexpected HGET result: %q %v", got, err)
	}
}

type fakeRedis struct {
	mu      sync.Mutex
	err     error
	hashes  map[string]map[string]string
	ttls    map[string]time.Duration
	written int
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written++
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.hashes == nil {
		f.hashes = map[string]map[string]string{}
	}
	hash := f.hashes[key]
	if hash == nil {
		hash = map[string]string{}
		f.hashes[key] = hash
	}
	for i := 0; i+1 < len(values); i += 2 {
		hash[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ttls == nil {
		f.ttls = map[string]time.Duration{}
	}
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) hash(key string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[key]
}

func (f *fakeRedis) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.hashes {
		keys = append(keys, k)
	}
	return keys
}

func (f *fakeRedis) expiry(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

func (f *fakeRedis) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
