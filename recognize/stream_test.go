package recognize

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// recognizerStub is an in-process stand-in for the recognition service: it
// records the handshake and everything sent, then answers with a scripted
// transcript once the write half closes.
type recognizerStub struct {
	mu         sync.Mutex
	authHeader string
	start      *startMessage
	frames     [][]byte
	endOfAudio bool

	// script runs after EndOfStream; each entry is one outbound JSON
	// message.
	script []serverMessage

	done chan struct{}
}

func newRecognizerStub(script ...serverMessage) *recognizerStub {
	return &recognizerStub{script: script, done: make(chan struct{})}
}

func (s *recognizerStub) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}

	return func(w http.ResponseWriter, r *http.Request) {
		defer close(s.done)

		s.mu.Lock()
		s.authHeader = r.Header.Get("Authorization")
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			switch kind {
			case websocket.TextMessage:
				if strings.Contains(string(data), "StartRecognition") {
					var msg startMessage
					if err := json.Unmarshal(data, &msg); err != nil {
						t.Errorf("malformed start message: %v", err)
						return
					}
					s.mu.Lock()
					s.start = &msg
					s.mu.Unlock()
					continue
				}

				// EndOfStream: play the script and close normally.
				s.mu.Lock()
				s.endOfAudio = true
				s.mu.Unlock()

				for _, out := range s.script {
					if err := conn.WriteJSON(out); err != nil {
						t.Errorf("write scripted message: %v", err)
						return
					}
				}
				conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return

			case websocket.BinaryMessage:
				s.mu.Lock()
				s.frames = append(s.frames, data)
				s.mu.Unlock()
			}
		}
	}
}

func (s *recognizerStub) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("service stub never finished")
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

func TestWebsocketStreamRoundTrip(t *testing.T) {
	stub := newRecognizerStub(
		serverMessage{
			Message:      "PartialTranscript",
			Alternatives: []Alternative{{Text: "hel"}},
		},
		serverMessage{
			Message:      "FinalTranscript",
			Alternatives: []Alternative{{Text: "hello", Confidence: 0.9}},
		},
	)
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := dialStream(ctx, websocket.DefaultDialer, wsURL(ts), "test-token")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer stream.Close()

	if err := stream.SendConfig(DefaultConfig("folder")); err != nil {
		t.Fatalf("send config: %v", err)
	}
	for _, frame := range []string{"f1", "f2"} {
		if err := stream.SendAudio([]byte(frame)); err != nil {
			t.Fatalf("send audio: %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}

	ev, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv partial: %v", err)
	}
	if ev.Kind != EventPartial || ev.Text() != "hel" {
		t.Errorf("partial = %v %q", ev.Kind, ev.Text())
	}

	ev, err = stream.Recv()
	if err != nil {
		t.Fatalf("recv final: %v", err)
	}
	if ev.Kind != EventFinal || ev.Text() != "hello" {
		t.Errorf("final = %v %q", ev.Kind, ev.Text())
	}

	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("recv after close = %v, want io.EOF", err)
	}

	stub.wait(t)
	stub.mu.Lock()
	defer stub.mu.Unlock()

	if stub.authHeader != "Bearer test-token" {
		t.Errorf("authorization header = %q", stub.authHeader)
	}
	if stub.start == nil {
		t.Fatal("service never saw a StartRecognition message")
	}
	if len(stub.frames) != 2 {
		t.Errorf("service saw %d frames, want 2", len(stub.frames))
	}
}

func TestStartSessionEndToEnd(t *testing.T) {
	stub := newRecognizerStub(
		serverMessage{
			Message:      "PartialTranscript",
			Alternatives: []Alternative{{Text: "прив"}},
		},
		serverMessage{
			Message:      "FinalTranscript",
			Alternatives: []Alternative{{Text: "привет", Confidence: 0.97}},
		},
	)
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	client := NewClient(staticTokens("e2e-token"), log.New(io.Discard))
	client.Endpoint = wsURL(ts)

	cfg := DefaultConfig("folder")
	cfg.SampleRateHertz = 8000
	cfg.LanguageCode = "ru-RU"

	session, err := client.StartSession(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	for _, frame := range []string{"f1", "f2", "f3"} {
		if err := session.SendAudio([]byte(frame)); err != nil {
			t.Fatalf("send audio: %v", err)
		}
	}
	if err := session.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}

	var events []Event
	for ev := range session.Results() {
		if ev.Kind == EventError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("received %d events, want 2", len(events))
	}
	if events[1].Text() != "привет" {
		t.Errorf("final transcript = %q", events[1].Text())
	}

	stub.wait(t)
	stub.mu.Lock()
	defer stub.mu.Unlock()

	if stub.start == nil {
		t.Fatal("config never reached the service")
	}
	if stub.start.Config.SampleRateHertz != 8000 ||
		stub.start.Config.LanguageCode != "ru-RU" {
		t.Errorf("config on the wire = %+v", stub.start.Config)
	}
	if len(stub.frames) != 3 {
		t.Fatalf("service saw %d frames, want 3", len(stub.frames))
	}
	for i, want := range []string{"f1", "f2", "f3"} {
		if string(stub.frames[i]) != want {
			t.Errorf("frame %d = %q, want %q", i, stub.frames[i], want)
		}
	}
	if !stub.endOfAudio {
		t.Error("service never saw the end-of-audio marker")
	}
}

func TestHandshakeFailureIsConnectError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer ts.Close()

	client := NewClient(staticTokens("tok"), log.New(io.Discard))
	client.Endpoint = wsURL(ts)

	_, err := client.StartSession(context.Background(), DefaultConfig(""))
	if err == nil {
		t.Fatal("expected a handshake error")
	}
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %T, want *ConnectError", err)
	}
}

func TestServiceErrorMessageTerminatesSession(t *testing.T) {
	stub := newRecognizerStub(
		serverMessage{Message: "Error", Reason: "quota exceeded"},
	)
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	client := NewClient(staticTokens("tok"), log.New(io.Discard))
	client.Endpoint = wsURL(ts)

	session, err := client.StartSession(context.Background(), DefaultConfig(""))
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := session.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}

	var terminal Event
	var errorEvents int
	for ev := range session.Results() {
		terminal = ev
		if ev.Kind == EventError {
			errorEvents++
		}
	}

	if errorEvents != 1 {
		t.Fatalf("received %d error events, want exactly 1", errorEvents)
	}
	var streamErr *StreamError
	if !errors.As(terminal.Err, &streamErr) {
		t.Fatalf("terminal error = %T, want *StreamError", terminal.Err)
	}
	if !strings.Contains(terminal.Err.Error(), "quota exceeded") {
		t.Errorf("terminal error lost the service reason: %v", terminal.Err)
	}
}

func TestMalformedServerMessageIsProtocolError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Swallow the config message, then answer with garbage.
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.ReadMessage()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := dialStream(ctx, websocket.DefaultDialer, wsURL(ts), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer stream.Close()

	if err := stream.SendConfig(DefaultConfig("")); err != nil {
		t.Fatalf("send config: %v", err)
	}

	_, err = stream.Recv()
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("recv = %v (%T), want *ProtocolError", err, err)
	}
}
