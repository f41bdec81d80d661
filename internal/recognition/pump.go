package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"shortnotes/internal/ports"
)

const (
	defaultChunkSize = 4096
	bytesPerSample   = 2
)

// Pump reads PCM from r in chunks and hands each chunk to send until r is drained. With
// cfg.Realtime set it paces the chunks at the audio's own rate, which keeps file sources
// from flooding a live recognizer. A drained reader returns nil; cancellation returns
// ctx.Err().
func Pump(ctx context.Context, r io.Reader, cfg ports.AudioConfig, send func([]byte) error) error {
	chunkSize := cfg.ChunkSize
	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}

	var pace time.Duration
	if cfg.Realtime && cfg.SampleRate > 0 {
		channels := cfg.Channels
		if channels <= 0 {
			channels = 1
		}
		bytesPerSecond := cfg.SampleRate * channels * bytesPerSample
		pace = time.Duration(float64(chunkSize) / float64(bytesPerSecond) * float64(time.Second))
	}

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if sendErr := send(buf[:n]); sendErr != nil {
				return fmt.Errorf("failed to stream audio: %w", sendErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("audio capture error: %w", err)
		}

		if pace > 0 {
			timer := time.NewTimer(pace)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

