package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio/device"
	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/credentials"
	"github.com/murmurlabs/murmur-core/internal/diarize"
	"github.com/murmurlabs/murmur-core/internal/gallery"
	"github.com/murmurlabs/murmur-core/internal/natsserver"
	"github.com/murmurlabs/murmur-core/internal/presence"
	"github.com/murmurlabs/murmur-core/internal/speech"
	"github.com/murmurlabs/murmur-core/internal/timeline"
	"github.com/murmurlabs/murmur-core/internal/voicestate"
)

type healthChecker interface {
	Healthy() bool
}

// Runtime assembles the murmur node: embedded bus, playback and diarization
// services, the speaker gallery, the session timeline, and the HTTP surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
	checks      []healthChecker
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

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://localhost:%d", busCfg.Port)}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()
	r.checks = append(r.checks, busClient)

	journal, err := timeline.Open(ctx, r.cfg.Timeline, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open timeline: %w", err)
	}
	defer journal.Close()

	speakers, err := gallery.Open(r.cfg.Gallery.Path, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open speaker gallery: %w", err)
	}

	secrets, err := credentials.Open(r.cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	voice := &voicestate.Cell{}

	player, err := r.buildPlayer()
	if err != nil {
		return fmt.Errorf("failed to build audio output: %w", err)
	}
	defer player.Teardown()
	player.SetVolume(float32(r.cfg.Audio.Volume))

	provider, err := speech.NewProvider(r.cfg.Speech, r.cfg.Audio, secrets)
	if err != nil {
		return fmt.Errorf("failed to build speech provider: %w", err)
	}
	speechSvc := speech.NewService(ctx, r.cfg.Speech, r.cfg.Audio, busClient, provider, player, voice, journal, r.logger)
	if err := speechSvc.Start(); err != nil {
		return fmt.Errorf("failed to start speech service: %w", err)
	}
	defer speechSvc.Close()
	r.checks = append(r.checks, speechSvc)

	engine, err := diarize.NewEngine(r.cfg.Diarize)
	if err != nil {
		return fmt.Errorf("failed to build diarization engine: %w", err)
	}
	diarizeSvc := diarize.NewService(ctx, r.cfg.Diarize, busClient, engine, speakers, journal)
	if err := diarizeSvc.Start(); err != nil {
		return fmt.Errorf("failed to start diarization service: %w", err)
	}
	defer diarizeSvc.Close()
	r.checks = append(r.checks, diarizeSvc)

	registry, err := presence.NewRegistry(ctx, r.cfg.Node, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start presence registry: %w", err)
	}
	defer registry.Close()

	mux := http.NewServeMux()
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
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildPlayer selects the output path: an external player subprocess when
// one is configured, otherwise an in-memory sink that discards audio.
func (r *Runtime) buildPlayer() (*device.Session, error) {
	if cmd := r.cfg.Speech.PlayerCmd; cmd != "" {
		sink, err := device.NewExecSink(cmd)
		if err != nil {
			return nil, err
		}
		return device.NewSession(sink, r.logger), nil
	}
	if r.cfg.Speech.Enabled {
		r.logger.Warn("no player command configured, synthesized audio will be discarded")
	}
	return device.NewSession(device.NewMemorySink(), r.logger), nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	for _, check := range r.checks {
		if !check.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unhealthy"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
