package recognize

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// State is the lifecycle phase of a Session.
type State int32

const (
	StateConnecting State = iota
	StateConfigSent
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConfigSent:
		return "config-sent"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session binds one audio sink, one result source, and one network stream.
// SendAudio and CloseSend feed the sink; Results drains the source. The two
// directions are independently paced: frame order is preserved to the wire,
// event order is preserved from the wire, and no joint ordering between them
// is promised.
//
// A Session is not restartable. Once it reaches StateClosed a new
// StartSession call is required.
type Session struct {
	ID string

	stream Stream
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	audio  chan []byte
	events chan Event
	done   chan struct{}

	state   atomic.Int32
	aborted atomic.Bool

	mu         sync.Mutex
	sinkClosed bool
	termErr    error

	failOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	release func()
}

func newSession(
	ctx context.Context,
	stream Stream,
	logger *log.Logger,
	audioBuffer, eventBuffer int,
) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		stream: stream,
		logger: logger,
		audio:  make(chan []byte, audioBuffer),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state.Store(int32(StateConnecting))
	return s
}

// start spawns the supervisor: the send loop, the receive loop, and the
// closer that waits for both to exit before marking the session terminal.
func (s *Session) start() {
	s.state.Store(int32(StateStreaming))

	s.wg.Add(2)
	go s.sendLoop()
	go s.recvLoop()

	go func() {
		s.wg.Wait()
		s.stream.Close()

		// The terminal error event goes out only after both loops have
		// exited, so no transcript received around the failure can land
		// behind it. Frames still queued at this point were never sent.
		s.mu.Lock()
		termErr := s.termErr
		s.mu.Unlock()
		if termErr != nil && !s.aborted.Load() {
			dropped := len(s.audio)
			s.logger.Error(
				"session failed",
				"id", s.ID,
				"error", termErr,
				"dropped_frames", dropped,
			)
			s.events <- Event{
				Kind:          EventError,
				Err:           termErr,
				DroppedFrames: dropped,
			}
		}

		s.state.Store(int32(StateClosed))
		close(s.events)
		close(s.done)
		s.cancel()
		if s.release != nil {
			s.release()
		}
		s.logger.Debug("session closed", "id", s.ID)
	}()
}

// SendAudio enqueues one frame for transmission. Frames are sent in enqueue
// order. When the queue is full it returns ErrAudioBacklog immediately
// rather than blocking; after CloseSend or termination it returns
// ErrSessionClosed. Ownership of the frame transfers to the session.
func (s *Session) SendAudio(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sinkClosed {
		return ErrSessionClosed
	}
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}

	select {
	case s.audio <- frame:
		return nil
	default:
		return ErrAudioBacklog
	}
}

// CloseSend signals end-of-audio. Every frame already enqueued is still
// written to the stream before the write half closes; the result source
// stays open until the service closes its side.
func (s *Session) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sinkClosed {
		return nil
	}
	if State(s.state.Load()) == StateClosed {
		return ErrSessionClosed
	}

	s.sinkClosed = true
	close(s.audio)
	return nil
}

// Close abandons the session immediately. Queued frames are dropped and the
// connection is torn down without a terminal error event. Prefer CloseSend
// for a graceful drain.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.aborted.Store(true)
		s.cancel()
		s.stream.Close()
	})
	return nil
}

// Results is the result source. Events arrive in network order and the
// channel closes once the session is terminal. If the session fails, the
// last event is the single terminal error event.
func (s *Session) Results() <-chan Event {
	return s.events
}

// Done closes when the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports the terminal error, if any. Meaningful once Results has been
// drained or Done has closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) sendLoop() {
	defer s.wg.Done()

	for {
		// Checked separately so a canceled session never wins the race
		// against a ready frame.
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-s.audio:
			if !ok {
				// End of audio: the queue is fully drained at this
				// point, so closing the write half honors the flush
				// guarantee.
				s.state.CompareAndSwap(
					int32(StateStreaming),
					int32(StateDraining),
				)
				if err := s.stream.CloseSend(); err != nil {
					s.fail(terminalError(err))
				}
				return
			}
			if err := s.stream.SendAudio(frame); err != nil {
				s.fail(terminalError(err))
				return
			}
		}
	}
}

func (s *Session) recvLoop() {
	defer s.wg.Done()
	// Unblocks the send loop when the service closes its side while audio
	// is still pending.
	defer s.cancel()

	for {
		ev, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			s.fail(terminalError(err))
			return
		}

		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

// fail records the terminal error and tears the connection down so both
// loops unblock, whichever of them hit the failure. The single error event
// is delivered by the closer once the loops have exited.
func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		if !s.aborted.Load() {
			s.mu.Lock()
			s.termErr = err
			s.mu.Unlock()
		}

		s.cancel()
		// A receive parked in the stream does not honor the context;
		// closing the stream is what unblocks it.
		s.stream.Close()
	})
}
