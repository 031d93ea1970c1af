package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/perchlabs/voicerelay/internal/audio"
)

var (
	// ErrPermissionDenied means the capture source refused access to
	// the input device.
	ErrPermissionDenied = errors.New("capture: permission denied")
	// ErrNoCapture means submit or playback was requested with nothing
	// recorded.
	ErrNoCapture = errors.New("capture: nothing recorded")
	// ErrBusy means the session is mid-submission and cannot accept the
	// operation.
	ErrBusy = errors.New("capture: submission in progress")
)

// State is the session lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateReadyToSubmit
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateReadyToSubmit:
		return "ready"
	case StateSubmitting:
		return "submitting"
	default:
		return "unknown"
	}
}

// Source produces PCM audio from an input device. Start may fail with
// ErrPermissionDenied when device access is refused.
type Source interface {
	Start(ctx context.Context) error
	// Stop ends the capture and returns the accumulated 16-bit PCM.
	Stop() ([]byte, error)
	SampleRate() int
	Channels() int
}

// Submitter forwards a finalized WAV capture and returns the reply.
type Submitter interface {
	Submit(ctx context.Context, sessionID string, wav []byte) (Reply, error)
}

// Player renders reply audio by locator.
type Player interface {
	Play(ctx context.Context, audioURL string) error
}

// Reply is the outcome of one submission as seen by the client.
type Reply struct {
	Text     string
	AudioURL string
}

// Session drives one capture lifecycle: record, finalize, submit, and
// play the reply exactly once. All methods are safe for concurrent use.
type Session struct {
	id        string
	source    Source
	submitter Submitter
	player    Player
	log       *slog.Logger

	mu      sync.Mutex
	state   State
	pending []byte
	reply   *Reply
	played  bool
}

func NewSession(id string, source Source, submitter Submitter, player Player, log *slog.Logger) *Session {
	return &Session{
		id:        id,
		source:    source,
		submitter: submitter,
		player:    player,
		log:       log.With(slog.String("component", "capture"), slog.String("session_id", id)),
		state:     StateIdle,
	}
}

// State reports the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Record begins a new capture. Starting over an unsubmitted capture
// discards it; starting during submission fails with ErrBusy.
func (s *Session) Record(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateSubmitting {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.state == StateRecording {
		s.mu.Unlock()
		return nil
	}
	discarded := len(s.pending) > 0
	s.pending = nil
	s.reply = nil
	s.played = false
	s.state = StateIdle
	s.mu.Unlock()

	if discarded {
		s.log.Info("discarding unsubmitted capture")
	}

	if err := s.source.Start(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return ErrPermissionDenied
		}
		return fmt.Errorf("capture: start source: %w", err)
	}

	s.mu.Lock()
	s.state = StateRecording
	s.mu.Unlock()
	return nil
}

// Finalize stops the capture and packages the PCM into a WAV container
// ready for submission. Calling it while not recording is a no-op.
func (s *Session) Finalize() error {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	pcm, err := s.source.Stop()
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return fmt.Errorf("capture: stop source: %w", err)
	}

	wav, err := audio.EncodeWAV(pcm, s.source.SampleRate(), s.source.Channels())
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return fmt.Errorf("capture: package wav: %w", err)
	}

	s.mu.Lock()
	s.pending = wav
	s.state = StateReadyToSubmit
	s.mu.Unlock()
	return nil
}

// Submit sends the finalized capture. With nothing recorded it fails
// with ErrNoCapture and makes no network call.
func (s *Session) Submit(ctx context.Context) (Reply, error) {
	s.mu.Lock()
	switch s.state {
	case StateSubmitting:
		s.mu.Unlock()
		return Reply{}, ErrBusy
	case StateReadyToSubmit:
	default:
		s.mu.Unlock()
		return Reply{}, ErrNoCapture
	}
	wav := s.pending
	s.state = StateSubmitting
	s.mu.Unlock()

	reply, err := s.submitter.Submit(ctx, s.id, wav)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.pending = nil
	if err != nil {
		return Reply{}, err
	}
	s.reply = &reply
	s.played = false
	return reply, nil
}

// PlayReply renders the last reply's audio. Each reply plays at most
// once; a reply with no audio locator is a no-op.
func (s *Session) PlayReply(ctx context.Context) error {
	s.mu.Lock()
	if s.reply == nil {
		s.mu.Unlock()
		return ErrNoCapture
	}
	if s.played || s.reply.AudioURL == "" {
		s.mu.Unlock()
		return nil
	}
	s.played = true
	audioURL := s.reply.AudioURL
	s.mu.Unlock()

	if s.player == nil {
		return nil
	}
	if err := s.player.Play(ctx, audioURL); err != nil {
		return fmt.Errorf("capture: play reply: %w", err)
	}
	return nil
}
