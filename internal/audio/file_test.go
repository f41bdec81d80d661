package audio

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestFileDecodesWAV(t *testing.T) {
	t.Parallel()

	samples := []int{0, 1000, -1000, 32767, -32768}
	path := writeWAV(t, 8000, 1, samples)

	source := NewFile(path, 16000, 1, 0)
	cfg := source.Config()
	if cfg.SampleRate != 8000 || cfg.Channels != 1 || !cfg.Realtime {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	reader, err := source.Open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer reader.Close()

	pcm, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(pcm) != len(samples)*2 {
		t.Fatalf("unexpected pcm length: %d", len(pcm))
	}
	for i, want := range samples {
		if got := int(int16(binary.LittleEndian.Uint16(pcm[i*2:]))); got != want {
			t.Fatalf("sample %d: got %d want %d", i, got, want)
		}
	}
}

func TestFileRawPassthrough(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "speech.pcm")
	if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0o600); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	source := NewFile(path, 0, 0, 512)
	if cfg := source.Config(); cfg.SampleRate != 16000 || cfg.Channels != 1 || cfg.ChunkSize != 512 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	reader, err := source.Open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer reader.Close()

	data, _ := io.ReadAll(reader)
	if string(data) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestFileRejectsInvalidWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(path, []byte("not a wav"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFile(path, 0, 0, 0).Open(context.Background()); err == nil {
		t.Fatalf("expected invalid wav error")
	}
	if _, err := NewFile(filepath.Join(t.TempDir(), "missing.wav"), 0, 0, 0).Open(context.Background()); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func writeWAV(t *testing.T, sampleRate, channels int, samples []int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "speech.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer file.Close()

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   samples,
	}
	if err := enc.Write(buffer); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
	return path
}
