package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/indiana-oracle/backend/internal/handler/oracle"
	personaHandler "github.com/zhouzirui/indiana-oracle/backend/internal/handler/persona"
	sessionHandler "github.com/zhouzirui/indiana-oracle/backend/internal/handler/session"
	speechHandler "github.com/zhouzirui/indiana-oracle/backend/internal/handler/speech"
	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/indiana-oracle/backend/internal/middleware"
	personaModel "github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	sessionService "github.com/zhouzirui/indiana-oracle/backend/internal/service/session"
	"github.com/zhouzirui/indiana-oracle/backend/pkg/utils"
)

// Services are the dependencies the HTTP surface exposes.
type Services struct {
	Personas personaModel.Store
	Registry *sessionService.Registry
	Oracle   *oracle.Handler

	// Speech is nil when no speech backend is configured.
	Speech        speechHandler.SpeechService
	Voices        sessionService.VoiceLoader
	Synthesizer   sessionService.Synthesizer
	SpeechTimeout time.Duration

	// Animation is the remote animation service, nil when the local
	// energy animator is used.
	Animation AnimationHealth

	// Metrics serves /metrics when non-nil.
	Metrics        http.Handler
	AllowedOrigins []string
}

// AnimationHealth probes a remote animation service.
type AnimationHealth interface {
	Health(ctx context.Context) error
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(svc.AllowedOrigins))

	r.Get("/", handleBanner(svc.Personas))

	r.Route("/api", func(api chi.Router) {
		personaHandler.New(svc.Personas, svc.Voices, svc.Synthesizer, svc.SpeechTimeout).RegisterRoutes(api)
		sessionHandler.New(svc.Registry).RegisterRoutes(api)
		api.Get("/animation/health", handleAnimationHealth(svc.Animation))

		if svc.Speech != nil {
			speechHandler.New(svc.Speech, svc.SpeechTimeout).RegisterRoutes(api)
		} else {
			api.HandleFunc("/speech/*", func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
			})
		}
	})

	if svc.Oracle != nil {
		svc.Oracle.RegisterRoutes(r)
	}
	if svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", svc.Metrics)
	}

	return r
}

func handleBanner(personas personaModel.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := make([]string, 0)
		for _, p := range personas.List() {
			ids = append(ids, p.ID)
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"message":  "Indiana Oracle backend",
			"session":  "/oracle/session",
			"personas": ids,
		})
	}
}

func handleAnimationHealth(animation AnimationHealth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if animation == nil {
			utils.RespondJSON(w, http.StatusOK, map[string]any{"service": "animation", "mode": "local", "status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := animation.Health(ctx); err != nil {
			logging.Warnw("animation health check failed", "component", "animation", "error", err)
			utils.RespondError(w, http.StatusServiceUnavailable, "animation service unreachable")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{"service": "animation", "mode": "remote", "status": "ok"})
	}
}
