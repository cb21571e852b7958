package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/indiana-oracle/backend/internal/config"
	"github.com/zhouzirui/indiana-oracle/backend/internal/handler"
	"github.com/zhouzirui/indiana-oracle/backend/internal/handler/oracle"
	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/service/ai"
	"github.com/zhouzirui/indiana-oracle/backend/internal/service/animation"
	emotionservice "github.com/zhouzirui/indiana-oracle/backend/internal/service/emotion"
	"github.com/zhouzirui/indiana-oracle/backend/internal/service/session"
	"github.com/zhouzirui/indiana-oracle/backend/internal/service/speech"
	"github.com/zhouzirui/indiana-oracle/backend/internal/telemetry"
)

func main() {
	logging.Init()
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logging.Infow("no .env file loaded, using process environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalw("failed to load configuration", "error", err)
	}

	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
		shutdownMeter  = func(context.Context) error { return nil }
	)
	if cfg.Telemetry.Enabled {
		metrics, metricsHandler, shutdownMeter, err = telemetry.Setup(cfg.Telemetry.ServiceName)
		if err != nil {
			logging.Warnw("telemetry setup failed, continuing without metrics", "error", err)
			metrics, metricsHandler = nil, nil
			shutdownMeter = func(context.Context) error { return nil }
		}
	}

	personaStore := persona.NewMemoryStore(loadPersonas(cfg.Oracle.PersonaCatalog))
	defaultPersona, ok := personaStore.FindByID(cfg.Oracle.DefaultPersona)
	if !ok {
		logging.Fatalw("default persona not in catalog", "persona", cfg.Oracle.DefaultPersona)
	}

	speechService := speech.NewService(cfg.Speech, cfg.Oracle.SampleRate)

	var (
		animator        session.Animator
		avatars         session.AvatarLoader
		animationHealth handler.AnimationHealth
	)
	if cfg.Animation.URL != "" {
		client := animation.NewClient(cfg.Animation.URL, cfg.Animation.APIKey, nil)
		animator, avatars, animationHealth = client, client, client
		logging.Infow("animation service configured", "component", "animation", "url", cfg.Animation.URL)
	} else {
		animator, avatars = animation.NewEnergyAnimator(), animation.StaticAvatars{}
		logging.Infow("animation service not configured, using local energy animator", "component", "animation")
	}

	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		if chatModel, err = cfg.AI.NewChatModel(ctx); err != nil {
			logging.Warnw("failed to create chat model, replies disabled", "component", "ai", "error", err)
			chatModel = nil
		}
	} else {
		logging.Warnw("ark credentials not configured, replies disabled", "component", "ai")
	}

	emotionCfg := emotionservice.Config{
		Enabled:      cfg.AI.EmotionLLMEnabled,
		HistoryLimit: cfg.AI.EmotionHistoryLimit,
	}
	emotionSvc, err := emotionservice.NewService(ctx, chatModel, emotionCfg)
	if err != nil {
		logging.Fatalw("failed to initialize emotion service", "component", "emotion", "error", err)
	}
	if emotionSvc.Enabled() {
		logging.Infow("emotion classifier enabled", "component", "emotion")
	} else {
		logging.Infow("emotion classifier disabled, using heuristics", "component", "emotion")
	}

	var responder session.Responder = ai.Disabled{}
	if chatModel != nil {
		// Tone advice before generation costs an extra model call, so it
		// only runs when the classifier is enabled.
		var advisor ai.ToneAdvisor
		if emotionSvc.Enabled() {
			advisor = emotionSvc
		}
		aiService, err := ai.NewService(ctx, chatModel, advisor)
		if err != nil {
			logging.Fatalw("failed to initialize AI service", "component", "ai", "error", err)
		}
		responder = aiService
		logging.Infow("AI service initialized", "component", "ai", "model", cfg.AI.Model)
	}

	bindings := session.NewBindingCache(speechService, avatars, cfg.Oracle.ResourceTimeout, cfg.Oracle.CacheBindings)
	switcher := session.NewSwitchController(personaStore, bindings, metrics)
	pipeline := session.NewPipeline(session.PipelineDeps{
		Transcriber: speechService,
		Responder:   responder,
		Synthesizer: speechService,
		Animator:    animator,
		Tagger:      emotionSvc,
	}, session.Timeouts{
		Transcribe: cfg.Oracle.TranscribeTimeout,
		Generate:   cfg.Oracle.GenerateTimeout,
		Synthesize: cfg.Oracle.SynthTimeout,
		SynthChunk: cfg.Oracle.SynthChunkTimeout,
		Animate:    cfg.Oracle.AnimateTimeout,
	}, metrics)
	registry := session.NewRegistry(session.RegistryConfig{
		DefaultPersona: defaultPersona,
		SampleRate:     cfg.Oracle.SampleRate,
		ReadyWindow:    cfg.Oracle.PartialWindow,
		Bindings:       bindings,
	}, metrics)

	oracleHandler := oracle.NewHandler(oracle.Deps{
		Registry: registry,
		Personas: personaStore,
		Switcher: switcher,
		Pipeline: pipeline,
		Metrics:  metrics,
	}, oracle.Config{
		ReadTimeout:    cfg.Oracle.ReadTimeout,
		PingInterval:   cfg.Oracle.PingInterval,
		WriteTimeout:   cfg.Oracle.WriteTimeout,
		InboundQueue:   cfg.Oracle.InboundQueue,
		OutboundQueue:  cfg.Oracle.OutboundQueue,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	router := handler.NewRouter(handler.Services{
		Personas:       personaStore,
		Registry:       registry,
		Oracle:         oracleHandler,
		Speech:         speechService,
		Voices:         speechService,
		Synthesizer:    speechService,
		SpeechTimeout:  cfg.Speech.Timeout,
		Animation:      animationHealth,
		Metrics:        metricsHandler,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logging.Infow("Indiana Oracle backend listening",
		"addr", cfg.Server.Addr,
		"personas", personaStore.IDs(),
		"speech", speechService.Provider(),
		"sample_rate", cfg.Oracle.SampleRate)
	if err := runServer(ctx, srv, registry); err != nil {
		logging.Errorw("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownMeter(shutdownCtx); err != nil {
		logging.Warnw("metrics shutdown failed", "error", err)
	}
}

// loadPersonas reads the YAML catalog when one is configured, else the
// built-in personas.
func loadPersonas(path string) []persona.Persona {
	if path == "" {
		return persona.Seed()
	}
	items, err := persona.LoadCatalog(path)
	if err != nil {
		logging.Fatalw("failed to load persona catalog", "path", path, "error", err)
	}
	logging.Infow("persona catalog loaded", "path", path, "count", len(items))
	return items
}

// runServer serves until ctx ends, then stops accepting connections and
// tears down live sessions. Hijacked WebSocket connections are not tracked by
// Shutdown, so sessions are closed through the registry.
func runServer(ctx context.Context, srv *http.Server, registry *session.Registry) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)

		closed := registry.CloseAll()
		if !registry.Wait(shutdownCtx) {
			logging.Warnw("sessions still draining at shutdown deadline", "count", registry.Count())
		}
		logging.Infow("server stopped", "sessions_closed", closed)

		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
