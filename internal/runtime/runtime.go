package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-translate/internal/api"
	"github.com/loqalabs/loqa-translate/internal/artifact"
	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/language"
	"github.com/loqalabs/loqa-translate/internal/natsserver"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/stt"
	"github.com/loqalabs/loqa-translate/internal/translate"
	"github.com/loqalabs/loqa-translate/internal/tts"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	metrics       http.Handler
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	capabilities *capability.Set
	languages    *language.Registry
	events       *eventstore.Store
	embeddedNATS *natsserver.EmbeddedServer
	bus          *bus.Client
	artifacts    artifact.Store
	coordinator  *pipeline.Coordinator
	busAPI       *api.BusService
	handler      http.Handler
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metricHandler

	if err := r.build(ctx); err != nil {
		r.shutdown()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http server")

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && r.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.metrics)
		r.metricsServer = &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.metricsServer, "metrics server")
	}

	r.wg.Add(1)
	go r.pruneLoop(ctx)

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" failed", slogError(err))
		}
	}()
}

// build constructs every component without opening listeners.
func (r *Runtime) build(ctx context.Context) error {
	cfg := r.cfg
	langs, err := language.NewRegistry(cfg.Languages.Supported)
	if err != nil {
		return fmt.Errorf("languages: %w", err)
	}
	if _, err := langs.Lookup(cfg.STT.DefaultLanguage); err != nil {
		return fmt.Errorf("stt.default_language: %w", err)
	}
	r.languages = langs

	r.capabilities = capability.NewSet(r.logger)
	ingestor, transcriber, translator, synthesizer := r.buildCapabilities(langs)

	r.events, err = eventstore.Open(ctx, cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	if cfg.Bus.Enabled {
		r.embeddedNATS, err = natsserver.Start(cfg.Bus, r.logger)
		if err != nil {
			return err
		}
		var servers []string
		if r.embeddedNATS != nil {
			servers = append(servers, r.embeddedNATS.ClientURL())
		}
		r.bus, err = bus.Connect(ctx, cfg.Bus, r.logger, servers...)
		if err != nil {
			return err
		}
		// Bus requests carry base64 audio inside JSON.
		if need := cfg.Ingest.MaxBytes * 4 / 3; r.bus.MaxPayload() < need {
			r.logger.Warn("bus max payload smaller than largest accepted upload",
				slog.String("max_payload", humanize.IBytes(uint64(r.bus.MaxPayload()))),
				slog.String("needed", humanize.IBytes(uint64(need))))
		}
	}

	r.artifacts, err = artifact.New(ctx, cfg.Artifacts, r.bus.JetStream(), r.logger)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	var publisher pipeline.Publisher
	if r.bus != nil {
		publisher = r.bus
	}
	r.coordinator = pipeline.New(pipeline.Options{
		Languages:         langs,
		Ingestor:          ingestor,
		Transcriber:       transcriber,
		Translator:        translator,
		Synthesizer:       synthesizer,
		Artifacts:         r.artifacts,
		Recorder:          pipeline.NewEventRecorder(r.events, publisher, r.logger),
		Timeout:           time.Duration(cfg.Pipeline.RequestTimeoutMS) * time.Millisecond,
		MaxTargets:        cfg.Pipeline.MaxTargets,
		ArtifactBaseURL:   cfg.HTTP.PublicBaseURL,
		Logger:            r.logger,
		AllowVoiceCloning: cfg.TTS.CloneVoice,
	})

	if r.bus != nil {
		r.busAPI = api.NewBusService(ctx, r.coordinator, r.bus, r.logger)
		if err := r.busAPI.Start(); err != nil {
			return fmt.Errorf("start bus api: %w", err)
		}
	}

	var timeline api.Timeline
	if r.events.Enabled() {
		timeline = r.events
	}
	r.handler = api.NewHandler(api.Options{
		Pipeline:           r.coordinator,
		Artifacts:          r.artifacts,
		Timeline:           timeline,
		Languages:          langs,
		Capabilities:       r.capabilities,
		Metrics:            r.metrics,
		Ready:              r.isReady,
		MaxUploadBytes:     cfg.Ingest.MaxBytes,
		CORSOrigins:        cfg.HTTP.CORSOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		Logger:             r.logger,
	})
	return nil
}

// buildCapabilities creates every model backend once. A backend that fails
// to initialize is registered as unavailable instead of aborting startup.
func (r *Runtime) buildCapabilities(langs *language.Registry) (*audio.Ingestor, *stt.Transcriber, *translate.Service, *tts.Service) {
	cfg := r.cfg
	set := r.capabilities

	codec, err := audio.NewCodec(cfg.Ingest)
	if err != nil {
		codec = nil
	}
	codecGate := set.Register(capability.Codec, cfg.Ingest.Codec, cfg.Pipeline.MaxConcurrency, nil, err)
	ingestor := audio.NewIngestor(cfg.Ingest, codec, codecGate, r.logger)

	recognizer, err := stt.NewRecognizer(cfg.STT, cfg.OpenAI)
	if err != nil {
		recognizer = nil
	}
	sttGate := set.Register(capability.STT, cfg.STT.Mode, cfg.STT.Concurrency, closerOf(recognizer), err)
	transcriber := stt.NewTranscriber(recognizer, sttGate, langs, cfg.STT.DefaultLanguage, r.logger)

	backend, err := translate.NewBackend(cfg.Translate, cfg.OpenAI)
	if err != nil {
		backend = nil
	}
	translateGate := set.Register(capability.Translate, cfg.Translate.Mode, cfg.Translate.Concurrency, closerOf(backend), err)
	translator := translate.NewService(backend, translateGate, cfg.Pipeline.MaxConcurrency, r.logger)

	synth, err := tts.NewSynthesizer(cfg.TTS, cfg.OpenAI)
	if err != nil {
		synth = nil
	}
	ttsGate := set.Register(capability.TTS, cfg.TTS.Mode, cfg.TTS.Concurrency, closerOf(synth), err)
	synthesizer := tts.NewService(synth, ttsGate, cfg.TTS.Voice, cfg.Pipeline.MaxConcurrency, r.logger)

	return ingestor, transcriber, translator, synthesizer
}

func closerOf(v any) io.Closer {
	if c, ok := v.(io.Closer); ok {
		return c
	}
	return nil
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	defer r.wg.Done()
	if !r.events.Enabled() {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.events.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("event store prune failed", slogError(err))
			}
		}
	}
}

// shutdown releases components in reverse construction order.
func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	r.wg.Wait()

	if r.busAPI != nil {
		r.busAPI.Close()
	}
	if r.artifacts != nil {
		if err := r.artifacts.Close(); err != nil {
			r.logger.Warn("artifact store close error", slogError(err))
		}
	}
	if r.capabilities != nil {
		if err := r.capabilities.Close(); err != nil {
			r.logger.Warn("capability close error", slogError(err))
		}
	}
	r.bus.Close()
	r.embeddedNATS.Shutdown()
	if err := r.events.Close(); err != nil {
		r.logger.Warn("event store close error", slogError(err))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}

func (r *Runtime) isReady() bool {
	return r.ready.Load() && r.capabilities.Ready()
}

// Capabilities exposes startup status, mainly for the CLI.
func (r *Runtime) Capabilities() []capability.Status {
	if r.capabilities == nil {
		return nil
	}
	return r.capabilities.Snapshot()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
