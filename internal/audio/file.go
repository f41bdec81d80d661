package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"shortnotes/internal/ports"
)

// File replays a recording as if it were live input. WAV files are decoded with their own
// format; any other file is taken as raw s16le PCM in the configured format.
type File struct {
	path string
	cfg  ports.AudioConfig
}

func NewFile(path string, sampleRate, channels, chunkSize int) *File {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &File{
		path: path,
		cfg: ports.AudioConfig{
			SampleRate: sampleRate,
			Channels:   channels,
			ChunkSize:  chunkSize,
			Realtime:   true,
		},
	}
}

// Config reports the file's format. For WAV files it reads the header.
func (f *File) Config() ports.AudioConfig {
	cfg := f.cfg
	if !isWAV(f.path) {
		return cfg
	}
	file, err := os.Open(f.path)
	if err != nil {
		return cfg
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	dec.ReadInfo()
	if dec.Err() == nil && dec.SampleRate > 0 {
		cfg.SampleRate = int(dec.SampleRate)
		cfg.Channels = int(dec.NumChans)
	}
	return cfg
}

func (f *File) Open(_ context.Context) (io.ReadCloser, error) {
	if !isWAV(f.path) {
		file, err := os.Open(f.path)
		if err != nil {
			return nil, fmt.Errorf("open audio file: %w", err)
		}
		return file, nil
	}

	pcm, err := readWAV(f.path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(pcm)), nil
}

func isWAV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}

func readWAV(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}
	return intBufferToPCM(buf), nil
}

func intBufferToPCM(buf *goaudio.IntBuffer) []byte {
	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	return pcm
}
