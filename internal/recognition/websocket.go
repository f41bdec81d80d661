package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"shortnotes/internal/domain"
	"shortnotes/internal/ports"
)

// Dialect describes one websocket recognizer protocol.
type Dialect struct {
	Provider string
	URL      string
	Header   http.Header

	// Start is sent as a text message before any audio.
	Start []byte
	// End is sent as a text message once the audio source is drained.
	End []byte
	// Decode turns one server message into snapshots. An error ends the stream as a
	// provider failure.
	Decode func(payload []byte, emit func(string)) error
}

// DialWebsocket connects to the recognizer, opens the audio source and starts streaming.
// Cancelling ctx closes the connection and ends the stream without an error.
func DialWebsocket(ctx context.Context, dialer *websocket.Dialer, dialect Dialect, source ports.AudioSource) (*Stream, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, dialect.URL, dialect.Header)
	if err != nil {
		return nil, domain.NewRecognitionError(dialect.Provider, fmt.Errorf("failed to connect: %w", err))
	}
	if len(dialect.Start) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, dialect.Start); err != nil {
			_ = conn.Close()
			return nil, domain.NewRecognitionError(dialect.Provider, fmt.Errorf("failed to configure stream: %w", err))
		}
	}

	audio, err := source.Open(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open audio source: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &socketSession{
		dialect:  dialect,
		conn:     conn,
		audio:    audio,
		audioCfg: source.Config(),
		stream:   NewStream(),
		cancel:   cancel,
	}

	session.wg.Add(2)
	go session.readLoop(sessionCtx)
	go session.writeLoop(sessionCtx)
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
		_ = audio.Close()
	}()
	go func() {
		session.wg.Wait()
		cancel()
		session.stream.Finish()
	}()

	return session.stream, nil
}

type socketSession struct {
	dialect  Dialect
	conn     *websocket.Conn
	audio    io.ReadCloser
	audioCfg ports.AudioConfig
	stream   *Stream
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

func (s *socketSession) fail(err error) {
	if err == nil {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && websocket.IsCloseError(closeErr,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}
	s.stream.SetErr(domain.NewRecognitionError(s.dialect.Provider, err))
}

func (s *socketSession) writeLoop(ctx context.Context) {
	defer s.wg.Done()

	err := Pump(ctx, s.audio, s.audioCfg, func(chunk []byte) error {
		return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.fail(err)
		s.cancel()
		return
	}

	if len(s.dialect.End) > 0 {
		if err := s.conn.WriteMessage(websocket.TextMessage, s.dialect.End); err != nil && ctx.Err() == nil {
			s.fail(fmt.Errorf("failed to close stream: %w", err))
			s.cancel()
		}
	}
}

func (s *socketSession) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.cancel()

	emit := func(partial string) {
		s.stream.Emit(ctx, partial)
	}
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.fail(fmt.Errorf("failed to read provider event: %w", err))
			}
			return
		}
		if err := s.dialect.Decode(payload, emit); err != nil {
			s.fail(err)
			return
		}
	}
}
