// Package execstt runs an external recognizer command. The command reads s16le PCM on stdin
// and prints one snapshot of the current utterance per line; a blank line marks silence.
package execstt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/mattn/go-shellwords"

	"shortnotes/internal/domain"
	"shortnotes/internal/ports"
	"shortnotes/internal/recognition"
)

const providerName = "exec"

type Recognizer struct {
	args   []string
	source ports.AudioSource
}

func NewRecognizer(command string, source ports.AudioSource) (*Recognizer, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("recognizer command is empty")
	}
	return &Recognizer{args: args, source: source}, nil
}

// Stream starts the command. The locale and audio format are passed in the environment as
// SHORTNOTES_LOCALE, SHORTNOTES_SAMPLE_RATE and SHORTNOTES_CHANNELS.
func (r *Recognizer) Stream(ctx context.Context, locale string) (ports.RecognitionStream, error) {
	audioCfg := r.source.Config()
	audio, err := r.source.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open audio source: %w", err)
	}

	cmd := exec.Command(r.args[0], r.args[1:]...)
	cmd.Env = append(os.Environ(),
		"SHORTNOTES_LOCALE="+locale,
		"SHORTNOTES_SAMPLE_RATE="+strconv.Itoa(audioCfg.SampleRate),
		"SHORTNOTES_CHANNELS="+strconv.Itoa(audioCfg.Channels),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = audio.Close()
		return nil, fmt.Errorf("failed to create recognizer stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = audio.Close()
		return nil, fmt.Errorf("failed to create recognizer stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = audio.Close()
		return nil, domain.NewRecognitionError(providerName, fmt.Errorf("failed to start recognizer: %w", err))
	}

	stream := recognition.NewStream()
	sessionCtx, cancel := context.WithCancel(ctx)

	go func() {
		<-sessionCtx.Done()
		_ = audio.Close()
		_ = cmd.Process.Kill()
	}()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		defer stdin.Close()

		err := recognition.Pump(sessionCtx, audio, audioCfg, func(chunk []byte) error {
			_, err := stdin.Write(chunk)
			return err
		})
		if err == nil || sessionCtx.Err() != nil || errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
			return
		}
		stream.SetErr(domain.NewRecognitionError(providerName, err))
		cancel()
	}()

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			stream.Emit(sessionCtx, strings.TrimSpace(scanner.Text()))
		}
		scanErr := scanner.Err()

		waitErr := cmd.Wait()
		canceled := ctx.Err() != nil
		cancel()
		writer.Wait()

		if !canceled {
			if waitErr != nil {
				stream.SetErr(domain.NewRecognitionError(providerName, exitError(waitErr, stderr.String())))
			} else if scanErr != nil {
				stream.SetErr(domain.NewRecognitionError(providerName, fmt.Errorf("read recognizer output: %w", scanErr)))
			}
		}
		stream.Finish()
	}()

	return stream, nil
}

func exitError(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("recognizer exited: %w", err)
	}
	return fmt.Errorf("recognizer exited: %w: %s", err, stderr)
}
