package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/perchlabs/voicerelay/internal/config"
	"github.com/perchlabs/voicerelay/internal/llm"
	"github.com/perchlabs/voicerelay/internal/protocol"
	"github.com/perchlabs/voicerelay/internal/stt"
	"github.com/perchlabs/voicerelay/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CannedSilenceReply is returned when recognition produces no words.
const CannedSilenceReply = "I didn't catch that. Could you please repeat?"

// Submission is one audio payload accepted at the boundary.
type Submission struct {
	SessionID   string
	Audio       []byte
	ContentType string
}

// Result is the outcome of one full exchange. AudioURL is empty when no
// speech was synthesized, which callers must tolerate.
type Result struct {
	Transcript   string `json:"transcript"`
	TextResponse string `json:"text_response"`
	AudioURL     string `json:"audio_url,omitempty"`
}

// AudioSink persists synthesized audio and returns a public locator.
type AudioSink interface {
	Put(data []byte) (string, error)
}

// Publisher emits exchange events. Publication is best effort; the
// synchronous exchange never blocks on it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Pipeline struct {
	recognizer stt.Recognizer
	generator  llm.Generator
	synth      tts.Synthesizer
	sink       AudioSink
	publisher  Publisher
	log        *slog.Logger

	sttTimeout time.Duration
	llmTimeout time.Duration
	ttsTimeout time.Duration
	llmCfg     config.LLMConfig

	tracer    trace.Tracer
	exchanges metric.Int64Counter
	stageSecs metric.Float64Histogram
}

func New(cfg config.Config, recognizer stt.Recognizer, generator llm.Generator, synth tts.Synthesizer, sink AudioSink, publisher Publisher, log *slog.Logger) *Pipeline {
	meter := otel.Meter("github.com/perchlabs/voicerelay/pipeline")
	exchanges, _ := meter.Int64Counter("voicerelay.exchanges.total",
		metric.WithDescription("Completed exchanges by outcome"))
	stageSecs, _ := meter.Float64Histogram("voicerelay.stage.duration.seconds",
		metric.WithDescription("Duration of each pipeline stage"))

	return &Pipeline{
		recognizer: recognizer,
		generator:  generator,
		synth:      synth,
		sink:       sink,
		publisher:  publisher,
		log:        log.With(slog.String("component", "pipeline")),
		sttTimeout: time.Duration(cfg.STT.TimeoutMS) * time.Millisecond,
		llmTimeout: time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond,
		ttsTimeout: time.Duration(cfg.TTS.TimeoutMS) * time.Millisecond,
		llmCfg:     cfg.LLM,
		tracer:     otel.Tracer("github.com/perchlabs/voicerelay/pipeline"),
		exchanges:  exchanges,
		stageSecs:  stageSecs,
	}
}

// Process runs one submission through recognition, generation, and
// synthesis in order. Recognition and generation failures abort the
// exchange; synthesis failures degrade it to a text-only result.
func (p *Pipeline) Process(ctx context.Context, sub Submission) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("session.id", sub.SessionID)))
	defer span.End()

	if len(sub.Audio) == 0 {
		return Result{}, fmt.Errorf("process: empty audio payload")
	}

	p.emit(protocol.SubjectExchangeSubmitted, protocol.SubmissionReceived{
		SessionID:   sub.SessionID,
		ContentType: sub.ContentType,
		Bytes:       len(sub.Audio),
		Timestamp:   time.Now().UTC(),
	})

	transcript, err := p.transcribe(ctx, sub)
	if err != nil {
		p.fail(sub.SessionID, "stt", err)
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}

	if strings.TrimSpace(transcript.Text) == "" {
		p.log.Info("empty transcript, returning canned reply",
			slog.String("session_id", sub.SessionID))
		p.count(ctx, "silence")
		return Result{
			Transcript:   "",
			TextResponse: CannedSilenceReply,
		}, nil
	}

	reply, err := p.generate(ctx, sub.SessionID, transcript.Text)
	if err != nil {
		p.fail(sub.SessionID, "llm", err)
		return Result{}, fmt.Errorf("generate: %w", err)
	}

	result := Result{
		Transcript:   transcript.Text,
		TextResponse: reply.Content,
	}

	audioURL, err := p.speak(ctx, sub.SessionID, reply.Content)
	if err != nil {
		// The caller still gets the text reply.
		p.log.Warn("synthesis failed, returning text-only result",
			slog.String("session_id", sub.SessionID), slogError(err))
		p.fail(sub.SessionID, "tts", err)
		p.count(ctx, "degraded")
		return result, nil
	}
	result.AudioURL = audioURL

	p.count(ctx, "ok")
	return result, nil
}

func (p *Pipeline) transcribe(ctx context.Context, sub Submission) (stt.TranscriptResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.stt")
	defer span.End()
	ctx, cancel := p.stageContext(ctx, p.sttTimeout)
	defer cancel()

	start := time.Now()
	transcript, err := p.recognizer.Transcribe(ctx, sub.Audio, sub.ContentType)
	p.observe(ctx, "stt", start)
	if err != nil {
		return stt.TranscriptResult{}, err
	}

	p.emit(protocol.SubjectExchangeTranscript, protocol.Transcript{
		SessionID:  sub.SessionID,
		Text:       transcript.Text,
		Confidence: transcript.Confidence,
		Timestamp:  time.Now().UTC(),
	})
	return transcript, nil
}

func (p *Pipeline) generate(ctx context.Context, sessionID, prompt string) (llm.Reply, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.llm")
	defer span.End()
	ctx, cancel := p.stageContext(ctx, p.llmTimeout)
	defer cancel()

	start := time.Now()
	reply, err := p.generator.Generate(ctx, llm.Request{
		SessionID:   sessionID,
		Prompt:      prompt,
		System:      p.llmCfg.SystemPrompt,
		MaxTokens:   p.llmCfg.MaxTokens,
		Temperature: p.llmCfg.Temperature,
	})
	p.observe(ctx, "llm", start)
	if err != nil {
		return llm.Reply{}, err
	}
	if strings.TrimSpace(reply.Content) == "" {
		return llm.Reply{}, fmt.Errorf("generator returned empty reply")
	}

	p.emit(protocol.SubjectExchangeReply, protocol.Reply{
		SessionID:        sessionID,
		Text:             reply.Content,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		LatencyMS:        reply.Latency.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	})
	return reply, nil
}

func (p *Pipeline) speak(ctx context.Context, sessionID, text string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.tts")
	defer span.End()
	ctx, cancel := p.stageContext(ctx, p.ttsTimeout)
	defer cancel()

	start := time.Now()
	wav, err := p.synth.Synthesize(ctx, tts.SynthRequest{
		SessionID: sessionID,
		Text:      text,
	})
	p.observe(ctx, "tts", start)
	if err != nil {
		return "", err
	}

	audioURL, err := p.sink.Put(wav)
	if err != nil {
		return "", fmt.Errorf("store audio: %w", err)
	}

	p.emit(protocol.SubjectExchangeSpeech, protocol.Speech{
		SessionID: sessionID,
		AudioURL:  audioURL,
		Bytes:     len(wav),
		Timestamp: time.Now().UTC(),
	})
	return audioURL, nil
}

func (p *Pipeline) stageContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (p *Pipeline) fail(sessionID, stage string, err error) {
	p.emit(protocol.SubjectExchangeFailed, protocol.Failure{
		SessionID: sessionID,
		Stage:     stage,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

func (p *Pipeline) emit(subject string, event any) {
	if p.publisher == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("failed to encode exchange event", slog.String("subject", subject), slogError(err))
		return
	}
	if err := p.publisher.Publish(subject, data); err != nil {
		p.log.Warn("failed to publish exchange event", slog.String("subject", subject), slogError(err))
	}
}

func (p *Pipeline) count(ctx context.Context, outcome string) {
	if p.exchanges == nil {
		return
	}
	p.exchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (p *Pipeline) observe(ctx context.Context, stage string, start time.Time) {
	if p.stageSecs == nil {
		return
	}
	p.stageSecs.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
