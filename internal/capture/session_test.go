package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/perchlabs/voicerelay/internal/audio"
)

type fakeSource struct {
	startErr error
	pcm      []byte
	starts   int
	stops    int
}

func (f *fakeSource) Start(ctx context.Context) error {
	f.starts++
	return f.startErr
}

func (f *fakeSource) Stop() ([]byte, error) {
	f.stops++
	return f.pcm, nil
}

func (f *fakeSource) SampleRate() int { return 16000 }
func (f *fakeSource) Channels() int   { return 1 }

type fakeSubmitter struct {
	reply Reply
	err   error
	calls int
	got   []byte
}

func (f *fakeSubmitter) Submit(ctx context.Context, sessionID string, wav []byte) (Reply, error) {
	f.calls++
	f.got = wav
	return f.reply, f.err
}

type fakePlayer struct {
	mu    sync.Mutex
	plays []string
}

func (f *fakePlayer) Play(ctx context.Context, audioURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, audioURL)
	return nil
}

func newTestSession(src *fakeSource, sub *fakeSubmitter, player *fakePlayer) *Session {
	return NewSession("s1", src, sub, player,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFullLifecycle(t *testing.T) {
	src := &fakeSource{pcm: []byte{1, 0, 2, 0}}
	sub := &fakeSubmitter{reply: Reply{Text: "hi there", AudioURL: "/audio/response-1.wav"}}
	player := &fakePlayer{}
	s := newTestSession(src, sub, player)
	ctx := context.Background()

	if s.State() != StateIdle {
		t.Fatalf("initial state = %v", s.State())
	}
	if err := s.Record(ctx); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if s.State() != StateRecording {
		t.Fatalf("state after record = %v", s.State())
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if s.State() != StateReadyToSubmit {
		t.Fatalf("state after finalize = %v", s.State())
	}

	reply, err := s.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if reply.Text != "hi there" {
		t.Errorf("reply text = %q", reply.Text)
	}
	if s.State() != StateIdle {
		t.Fatalf("state after submit = %v", s.State())
	}
	if !audio.IsWAV(sub.got) {
		t.Fatal("submitter did not receive a WAV container")
	}
	pcm, rate, channels, err := audio.DecodeWAV(sub.got)
	if err != nil {
		t.Fatalf("decode submitted wav: %v", err)
	}
	if rate != 16000 || channels != 1 || len(pcm) != 4 {
		t.Fatalf("wav params: rate=%d channels=%d pcm=%d", rate, channels, len(pcm))
	}
}

func TestSubmitWithoutCapture(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestSession(&fakeSource{}, sub, nil)

	_, err := s.Submit(context.Background())
	if !errors.Is(err, ErrNoCapture) {
		t.Fatalf("err = %v, want ErrNoCapture", err)
	}
	if sub.calls != 0 {
		t.Fatalf("submitter called %d times with nothing recorded", sub.calls)
	}
}

func TestRecordDeniedPermission(t *testing.T) {
	src := &fakeSource{startErr: ErrPermissionDenied}
	s := newTestSession(src, &fakeSubmitter{}, nil)

	err := s.Record(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want idle", s.State())
	}
}

func TestRestartDiscardsPendingCapture(t *testing.T) {
	src := &fakeSource{pcm: []byte{1, 0}}
	sub := &fakeSubmitter{reply: Reply{Text: "ok"}}
	s := newTestSession(src, sub, nil)
	ctx := context.Background()

	if err := s.Record(ctx); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// A fresh recording replaces the unsubmitted capture.
	src.pcm = []byte{9, 0, 9, 0}
	if err := s.Record(ctx); err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if _, err := s.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	pcm, _, _, err := audio.DecodeWAV(sub.got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != 4 {
		t.Fatalf("submitted pcm len = %d, want the second capture", len(pcm))
	}
	if sub.calls != 1 {
		t.Fatalf("submitter called %d times", sub.calls)
	}
}

func TestFinalizeWithoutRecordingIsNoOp(t *testing.T) {
	src := &fakeSource{}
	s := newTestSession(src, &fakeSubmitter{}, nil)
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if src.stops != 0 {
		t.Fatalf("source stopped %d times with nothing recording", src.stops)
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want idle", s.State())
	}
}

func TestPlayReplyExactlyOnce(t *testing.T) {
	src := &fakeSource{pcm: []byte{1, 0}}
	sub := &fakeSubmitter{reply: Reply{Text: "hi", AudioURL: "/audio/response-1.wav"}}
	player := &fakePlayer{}
	s := newTestSession(src, sub, player)
	ctx := context.Background()

	s.Record(ctx)
	s.Finalize()
	if _, err := s.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := s.PlayReply(ctx); err != nil {
		t.Fatalf("PlayReply: %v", err)
	}
	if err := s.PlayReply(ctx); err != nil {
		t.Fatalf("second PlayReply: %v", err)
	}
	if len(player.plays) != 1 {
		t.Fatalf("played %d times, want exactly 1", len(player.plays))
	}
	if player.plays[0] != "/audio/response-1.wav" {
		t.Fatalf("played %q", player.plays[0])
	}
}

func TestPlayReplyWithoutAudio(t *testing.T) {
	src := &fakeSource{pcm: []byte{1, 0}}
	sub := &fakeSubmitter{reply: Reply{Text: "I didn't catch that. Could you please repeat?"}}
	player := &fakePlayer{}
	s := newTestSession(src, sub, player)
	ctx := context.Background()

	s.Record(ctx)
	s.Finalize()
	if _, err := s.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.PlayReply(ctx); err != nil {
		t.Fatalf("PlayReply: %v", err)
	}
	if len(player.plays) != 0 {
		t.Fatalf("played %d times for a text-only reply", len(player.plays))
	}
}

func TestSubmitFailureReturnsToIdle(t *testing.T) {
	src := &fakeSource{pcm: []byte{1, 0}}
	sub := &fakeSubmitter{err: errors.New("boundary down")}
	s := newTestSession(src, sub, nil)
	ctx := context.Background()

	s.Record(ctx)
	s.Finalize()
	if _, err := s.Submit(ctx); err == nil {
		t.Fatal("expected submit error")
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want idle", s.State())
	}
	// A failed submission consumed its capture.
	if _, err := s.Submit(ctx); !errors.Is(err, ErrNoCapture) {
		t.Fatalf("err = %v, want ErrNoCapture", err)
	}
}
