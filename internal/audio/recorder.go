package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"shortnotes/internal/ports"
)

// RecorderConfig selects the capture device handed to the recorder command.
type RecorderConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
	ChunkSize   int
}

const (
	defaultStartTimeout = 3 * time.Second
	stopGrace           = 1200 * time.Millisecond
)

// Recorder captures microphone PCM through an ffmpeg-compatible command.
type Recorder struct {
	cfg          RecorderConfig
	startTimeout time.Duration
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return &Recorder{cfg: cfg, startTimeout: defaultStartTimeout}
}

func (r *Recorder) Config() ports.AudioConfig {
	return ports.AudioConfig{
		SampleRate: r.cfg.SampleRate,
		Channels:   r.cfg.Channels,
		ChunkSize:  r.cfg.ChunkSize,
	}
}

func (r *Recorder) args() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", r.cfg.InputFormat,
		"-i", r.cfg.InputDevice,
		"-ac", strconv.Itoa(r.cfg.Channels),
		"-ar", strconv.Itoa(r.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Open starts the recorder and returns once the first audio bytes are available, so a
// missing or busy device fails here rather than mid-session. The recording stops when the
// reader is closed or ctx is cancelled: the process gets SIGINT and is killed if it is
// still running after a grace period.
func (r *Recorder) Open(ctx context.Context) (io.ReadCloser, error) {
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, r.cfg.Command, r.args()...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = stopGrace

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create recorder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start recorder: %w", err)
	}

	rec := &recording{
		cmd:    cmd,
		cancel: cancel,
		pcm:    bufio.NewReader(stdout),
		stderr: &stderr,
	}

	first := make(chan error, 1)
	go func() {
		_, err := rec.pcm.Peek(1)
		first <- err
	}()

	select {
	case err := <-first:
		if err == nil {
			return rec, nil
		}
		if waitErr := rec.stop(); waitErr != nil {
			return nil, fmt.Errorf("recorder exited before capture started: %w", withOutput(waitErr, stderr.String()))
		}
		return nil, errors.New("recorder exited before capture started")
	case <-time.After(r.startTimeout):
		_ = rec.stop()
		return nil, fmt.Errorf("recorder produced no audio within %s", r.startTimeout)
	case <-ctx.Done():
		_ = rec.stop()
		return nil, ctx.Err()
	}
}

// recording is one running recorder process.
type recording struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	pcm    *bufio.Reader
	stderr *bytes.Buffer

	once sync.Once
	err  error
}

func (s *recording) Read(p []byte) (int, error) {
	return s.pcm.Read(p)
}

// Close stops the recorder. Exit statuses caused by the interrupt or the kill are not
// errors.
func (s *recording) Close() error {
	err := s.stop()
	if expectedExit(err) {
		return nil
	}
	return withOutput(err, s.stderr.String())
}

func (s *recording) stop() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.cmd.Wait()
	})
	return s.err
}

func expectedExit(err error) bool {
	var exitErr *exec.ExitError
	return err == nil ||
		errors.As(err, &exitErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, exec.ErrWaitDelay)
}

func withOutput(err error, output string) error {
	if err == nil {
		return nil
	}
	if output = strings.TrimSpace(output); output != "" {
		return fmt.Errorf("%w: %s", err, output)
	}
	return err
}
