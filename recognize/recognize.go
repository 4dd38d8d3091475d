package recognize

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/ssankko/speechkit/auth"
	"github.com/ssankko/speechkit/health"
)

const (
	// DefaultAudioBuffer bounds the audio frame queue. A full queue is
	// reported to the producer through ErrAudioBacklog instead of growing
	// without limit.
	DefaultAudioBuffer = 256

	// DefaultEventBuffer bounds the event queue. A slow consumer makes the
	// receive loop wait rather than buffer unboundedly.
	DefaultEventBuffer = 32
)

// Client opens streaming recognition sessions. Construct one per endpoint
// and share it; sessions are fully independent of each other.
type Client struct {
	Endpoint string
	Tokens   auth.TokenSource
	Dialer   *websocket.Dialer

	// Tracker, when set, is held busy for the lifetime of every session.
	Tracker *health.Tracker

	// AudioBuffer and EventBuffer override the queue bounds.
	AudioBuffer int
	EventBuffer int

	logger *log.Logger
}

func NewClient(tokens auth.TokenSource, logger *log.Logger) *Client {
	return &Client{
		Endpoint:    DefaultEndpoint,
		Tokens:      tokens,
		Dialer:      websocket.DefaultDialer,
		AudioBuffer: DefaultAudioBuffer,
		EventBuffer: DefaultEventBuffer,
		logger:      logger,
	}
}

// StartSession opens the bidirectional stream, writes the configuration
// message as its first frame, and hands the stream to a supervisor. On a
// handshake failure it returns a ConnectError and no session exists; the
// caller decides whether to retry.
func (c *Client) StartSession(ctx context.Context, cfg Config) (*Session, error) {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := dialStream(ctx, c.Dialer, c.Endpoint, token)
	if err != nil {
		return nil, &ConnectError{Err: err}
	}

	return c.supervise(ctx, stream, cfg)
}

// supervise is the session setup shared by StartSession and the transport
// tests: config first, then the send/receive loops.
func (c *Client) supervise(
	ctx context.Context,
	stream Stream,
	cfg Config,
) (*Session, error) {
	s := newSession(ctx, stream, c.logger, c.AudioBuffer, c.EventBuffer)

	if err := stream.SendConfig(cfg); err != nil {
		stream.Close()
		s.cancel()
		return nil, &ConnectError{Err: err}
	}
	s.state.Store(int32(StateConfigSent))

	if c.Tracker != nil {
		tok := c.Tracker.Acquire()
		s.release = tok.Release
	}

	c.logger.Debug(
		"session started",
		"id", s.ID,
		"language", cfg.LanguageCode,
		"sample_rate", cfg.SampleRateHertz,
	)

	s.start()
	return s, nil
}
