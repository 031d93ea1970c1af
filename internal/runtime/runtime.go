package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perchlabs/voicerelay/internal/audiostore"
	"github.com/perchlabs/voicerelay/internal/bus"
	"github.com/perchlabs/voicerelay/internal/config"
	"github.com/perchlabs/voicerelay/internal/eventstore"
	"github.com/perchlabs/voicerelay/internal/gateway"
	"github.com/perchlabs/voicerelay/internal/journal"
	"github.com/perchlabs/voicerelay/internal/llm"
	"github.com/perchlabs/voicerelay/internal/natsserver"
	"github.com/perchlabs/voicerelay/internal/pipeline"
	"github.com/perchlabs/voicerelay/internal/relay"
	"github.com/perchlabs/voicerelay/internal/stt"
	"github.com/perchlabs/voicerelay/internal/tts"
)

// Runtime assembles the daemon: telemetry, the optional message bus and
// journal, the exchange pipeline, and the HTTP surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	store       *eventstore.Store
	journal     *journal.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, serves until ctx is cancelled, then
// shuts down in dependency order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Enabled {
		srv, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded nats: %w", err)
		}
		r.natsServer = srv

		client, err := bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.busClient = client
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	if r.busClient != nil {
		r.journal = journal.NewService(ctx, r.busClient, r.store, r.logger)
		if err := r.journal.Start(); err != nil {
			return fmt.Errorf("failed to start journal: %w", err)
		}
	}

	audioStore, err := audiostore.Open(r.cfg.AudioStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open audio store: %w", err)
	}
	if err := audioStore.Prune(); err != nil {
		r.logger.Warn("audio store prune failed", slog.String("error", err.Error()))
	}

	recognizer, err := buildRecognizer(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("failed to build recognizer: %w", err)
	}
	generator, err := buildGenerator(r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to build generator: %w", err)
	}
	synth, err := buildSynthesizer(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("failed to build synthesizer: %w", err)
	}

	var publisher pipeline.Publisher
	if r.busClient != nil {
		publisher = r.busClient
	}
	pipe := pipeline.New(r.cfg, recognizer, generator, synth, audioStore, publisher, r.logger)

	gatewayHandler := gateway.NewHandler(pipe, r.store, r.cfg.Relay.MaxBodyBytes, r.logger)
	relayClient := relay.New(r.cfg.Relay, r.logger)
	relayHandler := relay.NewHandler(relayClient, r.cfg.Relay.MaxBodyBytes, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/process-audio", gatewayHandler.ProcessAudio)
	mux.Handle("/api/submissions", relayHandler)
	mux.HandleFunc("/api/exchanges/", gatewayHandler.Exchanges)
	mux.Handle(r.cfg.AudioStore.PublicPath+"/", audioStore)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("stt_mode", r.cfg.STT.Mode),
		slog.String("llm_mode", r.cfg.LLM.Mode),
		slog.String("tts_mode", r.cfg.TTS.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.journal != nil {
		r.journal.Close()
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.natsServer != nil {
		r.natsServer.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func buildRecognizer(cfg config.STTConfig) (stt.Recognizer, error) {
	switch cfg.Mode {
	case "deepgram":
		return stt.NewDeepgramRecognizer(cfg), nil
	case "exec":
		return stt.NewExecRecognizer(cfg)
	case "mock", "":
		return stt.NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}

func buildGenerator(cfg config.LLMConfig) (llm.Generator, error) {
	switch cfg.Mode {
	case "groq":
		return llm.NewGroqGenerator(cfg), nil
	case "exec":
		return llm.NewExecGenerator(cfg.Command)
	case "mock", "":
		return llm.NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

func buildSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "deepgram":
		return tts.NewDeepgramSynth(cfg), nil
	case "exec":
		return tts.NewExecSynth(cfg.Command, cfg.SampleRate)
	case "mock", "":
		return tts.NewMockSynth(cfg.SampleRate), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if r.busClient != nil && !r.busClient.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus unavailable"))
		return
	}
	if r.journal != nil && !r.journal.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("journal unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
