package recognize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultEndpoint is the streaming recognition websocket URL.
	DefaultEndpoint = "wss://stt.api.cloud.yandex.net/speech/v2/streaming"

	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

// Stream is one bidirectional connection to the recognition service. A
// Stream belongs to exactly one Session; the supervisor goroutines are its
// only callers, and they never write concurrently.
type Stream interface {
	// SendConfig writes the configuration message. It must be the first
	// message on the stream and is never resent.
	SendConfig(cfg Config) error

	// SendAudio writes one audio frame.
	SendAudio(frame []byte) error

	// CloseSend signals end-of-audio and closes the write half. The
	// service keeps responding until it closes its own side.
	CloseSend() error

	// Recv blocks for the next event. It returns io.EOF once the service
	// has closed its side.
	Recv() (Event, error)

	// Close tears the connection down. Safe to call concurrently with a
	// blocked Recv, which it unblocks.
	Close() error
}

type startMessage struct {
	Message string `json:"message"`
	Config  Config `json:"config"`
}

type endOfStreamMessage struct {
	Message string `json:"message"`
}

type serverMessage struct {
	Message      string        `json:"message"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// wsStream speaks the service's websocket framing: a JSON StartRecognition
// message, then binary audio frames, then a JSON EndOfStream marker; JSON
// transcript events flow the other way.
type wsStream struct {
	conn *websocket.Conn
}

func dialStream(
	ctx context.Context,
	dialer *websocket.Dialer,
	endpoint string,
	token string,
) (*wsStream, error) {
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}

	s := &wsStream{conn: conn}
	go s.keepAlive(ctx)

	return s, nil
}

func (s *wsStream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(pongTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				return
			}
		}
	}
}

func (s *wsStream) SendConfig(cfg Config) error {
	msg := startMessage{
		Message: "StartRecognition",
		Config:  cfg,
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send StartRecognition message: %w", err)
	}
	return nil
}

func (s *wsStream) SendAudio(frame []byte) error {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	return nil
}

func (s *wsStream) CloseSend() error {
	msg := endOfStreamMessage{Message: "EndOfStream"}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send EndOfStream message: %w", err)
	}
	return nil
}

func (s *wsStream) Recv() (Event, error) {
	kind, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return Event{}, io.EOF
		}
		return Event{}, err
	}

	if kind != websocket.TextMessage {
		return Event{}, &ProtocolError{
			Msg: fmt.Sprintf("unexpected message type %d", kind),
		}
	}

	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, &ProtocolError{
			Msg: "malformed server message: " + err.Error(),
		}
	}

	switch msg.Message {
	case "PartialTranscript":
		return Event{Kind: EventPartial, Alternatives: msg.Alternatives}, nil
	case "FinalTranscript":
		return Event{Kind: EventFinal, Alternatives: msg.Alternatives}, nil
	case "EndOfTranscript":
		return Event{}, io.EOF
	case "Error":
		return Event{}, &StreamError{
			Err: fmt.Errorf("service error: %s", msg.Reason),
		}
	default:
		return Event{}, &ProtocolError{
			Msg: "unexpected message: " + msg.Message,
		}
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
