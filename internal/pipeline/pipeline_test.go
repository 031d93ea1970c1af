package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/perchlabs/voicerelay/internal/config"
	"github.com/perchlabs/voicerelay/internal/llm"
	"github.com/perchlabs/voicerelay/internal/protocol"
	"github.com/perchlabs/voicerelay/internal/stt"
	"github.com/perchlabs/voicerelay/internal/tts"
)

type stubRecognizer struct {
	text string
	err  error
}

func (s *stubRecognizer) Transcribe(ctx context.Context, audio []byte, contentType string) (stt.TranscriptResult, error) {
	if s.err != nil {
		return stt.TranscriptResult{}, s.err
	}
	return stt.TranscriptResult{Text: s.text, Confidence: 0.9}, nil
}

type stubGenerator struct {
	content string
	err     error
	gotReq  llm.Request
}

func (s *stubGenerator) Generate(ctx context.Context, req llm.Request) (llm.Reply, error) {
	s.gotReq = req
	if s.err != nil {
		return llm.Reply{}, s.err
	}
	return llm.Reply{Content: s.content}, nil
}

type stubSynth struct {
	wav []byte
	err error
}

func (s *stubSynth) Synthesize(ctx context.Context, req tts.SynthRequest) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.wav, nil
}

type memSink struct {
	locator string
	stored  [][]byte
}

func (m *memSink) Put(data []byte) (string, error) {
	m.stored = append(m.stored, data)
	return m.locator, nil
}

type memPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (m *memPublisher) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	m.payloads = append(m.payloads, data)
	return nil
}

func (m *memPublisher) has(subject string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subjects {
		if s == subject {
			return true
		}
	}
	return false
}

func newTestPipeline(rec stt.Recognizer, gen llm.Generator, synth tts.Synthesizer, sink AudioSink, pub Publisher) *Pipeline {
	cfg := config.Default()
	return New(cfg, rec, gen, synth, sink, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProcessHappyPath(t *testing.T) {
	gen := &stubGenerator{content: "Your plan includes 10GB of data."}
	sink := &memSink{locator: "/audio/response-abc.wav"}
	pub := &memPublisher{}
	p := newTestPipeline(
		&stubRecognizer{text: "how much data do I have"},
		gen,
		&stubSynth{wav: []byte("RIFFwav")},
		sink, pub,
	)

	result, err := p.Process(context.Background(), Submission{
		SessionID:   "s1",
		Audio:       []byte("audio"),
		ContentType: "audio/wav",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Transcript != "how much data do I have" {
		t.Errorf("transcript = %q", result.Transcript)
	}
	if result.TextResponse != "Your plan includes 10GB of data." {
		t.Errorf("text response = %q", result.TextResponse)
	}
	if result.AudioURL != "/audio/response-abc.wav" {
		t.Errorf("audio url = %q", result.AudioURL)
	}
	if len(sink.stored) != 1 || string(sink.stored[0]) != "RIFFwav" {
		t.Errorf("stored audio = %v", sink.stored)
	}
	if gen.gotReq.System == "" {
		t.Error("generator request missing system prompt")
	}
	for _, subject := range []string{
		protocol.SubjectExchangeSubmitted,
		protocol.SubjectExchangeTranscript,
		protocol.SubjectExchangeReply,
		protocol.SubjectExchangeSpeech,
	} {
		if !pub.has(subject) {
			t.Errorf("missing event on %s", subject)
		}
	}
	if pub.has(protocol.SubjectExchangeFailed) {
		t.Error("unexpected failure event")
	}
}

func TestProcessSilenceReturnsCannedReply(t *testing.T) {
	gen := &stubGenerator{content: "should not be called"}
	p := newTestPipeline(
		&stubRecognizer{text: "   "},
		gen,
		&stubSynth{wav: []byte("RIFFwav")},
		&memSink{locator: "/audio/x.wav"},
		&memPublisher{},
	)

	result, err := p.Process(context.Background(), Submission{SessionID: "s1", Audio: []byte("a")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.TextResponse != CannedSilenceReply {
		t.Errorf("text response = %q", result.TextResponse)
	}
	if result.AudioURL != "" {
		t.Errorf("audio url = %q, want empty", result.AudioURL)
	}
	if gen.gotReq.Prompt != "" {
		t.Error("generator called for silent submission")
	}
}

func TestProcessRecognitionFailureAborts(t *testing.T) {
	pub := &memPublisher{}
	p := newTestPipeline(
		&stubRecognizer{err: errors.New("vendor down")},
		&stubGenerator{content: "x"},
		&stubSynth{wav: []byte("w")},
		&memSink{locator: "/audio/x.wav"},
		pub,
	)

	_, err := p.Process(context.Background(), Submission{SessionID: "s1", Audio: []byte("a")})
	if err == nil || !strings.Contains(err.Error(), "transcribe") {
		t.Fatalf("err = %v, want transcribe error", err)
	}
	if !pub.has(protocol.SubjectExchangeFailed) {
		t.Error("missing failure event")
	}
}

func TestProcessSynthesisFailureIsNonFatal(t *testing.T) {
	pub := &memPublisher{}
	p := newTestPipeline(
		&stubRecognizer{text: "hello"},
		&stubGenerator{content: "hi there"},
		&stubSynth{err: errors.New("speak quota exceeded")},
		&memSink{locator: "/audio/x.wav"},
		pub,
	)

	result, err := p.Process(context.Background(), Submission{SessionID: "s1", Audio: []byte("a")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.TextResponse != "hi there" {
		t.Errorf("text response = %q", result.TextResponse)
	}
	if result.AudioURL != "" {
		t.Errorf("audio url = %q, want empty", result.AudioURL)
	}
	if !pub.has(protocol.SubjectExchangeFailed) {
		t.Error("missing tts failure event")
	}
}

func TestProcessRejectsEmptyAudio(t *testing.T) {
	p := newTestPipeline(
		&stubRecognizer{text: "hello"},
		&stubGenerator{content: "hi"},
		&stubSynth{wav: []byte("w")},
		&memSink{locator: "/audio/x.wav"},
		nil,
	)
	if _, err := p.Process(context.Background(), Submission{SessionID: "s1"}); err == nil {
		t.Fatal("expected error for empty audio")
	}
}

func TestFailureEventCarriesStage(t *testing.T) {
	pub := &memPublisher{}
	p := newTestPipeline(
		&stubRecognizer{text: "hello"},
		&stubGenerator{err: errors.New("model overloaded")},
		&stubSynth{wav: []byte("w")},
		&memSink{locator: "/audio/x.wav"},
		pub,
	)

	if _, err := p.Process(context.Background(), Submission{SessionID: "s1", Audio: []byte("a")}); err == nil {
		t.Fatal("expected generation error")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	found := false
	for i, subject := range pub.subjects {
		if subject != protocol.SubjectExchangeFailed {
			continue
		}
		var failure protocol.Failure
		if err := json.Unmarshal(pub.payloads[i], &failure); err != nil {
			t.Fatalf("decode failure event: %v", err)
		}
		if failure.Stage != "llm" {
			t.Errorf("stage = %q, want llm", failure.Stage)
		}
		found = true
	}
	if !found {
		t.Error("missing failure event")
	}
}
