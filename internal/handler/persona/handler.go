package persona

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/service/session"
	speechsvc "github.com/zhouzirui/indiana-oracle/backend/internal/service/speech"
	"github.com/zhouzirui/indiana-oracle/backend/pkg/utils"
)

const maxPreviewRunes = 300

type Handler struct {
	personas persona.Store
	voices   session.VoiceLoader
	synth    session.Synthesizer
	timeout  time.Duration
}

// New builds the persona routes. voices and synth may be nil, in which case
// previews are unavailable.
func New(personas persona.Store, voices session.VoiceLoader, synth session.Synthesizer, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{personas: personas, voices: voices, synth: synth, timeout: timeout}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/{id}", h.handleGetPersona)
	r.Post("/personas/{id}/preview", h.handlePreview)
}

func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, ok := h.personas.FindByID(chi.URLParam(r, "id"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

// handlePreview synthesizes a short line in the persona's voice. The text
// defaults to the persona's greeting.
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, ok := h.personas.FindByID(chi.URLParam(r, "id"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}
	if h.voices == nil || h.synth == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech preview not available")
		return
	}

	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		text = p.Greeting
	}
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if runes := []rune(text); len(runes) > maxPreviewRunes {
		text = string(runes[:maxPreviewRunes])
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	voice, err := h.voices.LoadVoice(ctx, p)
	if err != nil {
		logging.Warnw("preview voice load failed", "component", "persona", "persona", p.ID, "error", err)
		utils.RespondError(w, http.StatusBadGateway, "voice load failed")
		return
	}
	stream, err := h.synth.SynthesizeStream(ctx, text, voice)
	if err != nil {
		h.previewFailed(w, p.ID, err)
		return
	}
	collected, err := speechsvc.Collect(ctx, stream)
	if err != nil {
		h.previewFailed(w, p.ID, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"personaId":  p.ID,
		"text":       text,
		"audio":      base64.StdEncoding.EncodeToString(collected.Data),
		"format":     collected.Format,
		"sampleRate": collected.SampleRate,
	})
}

func (h *Handler) previewFailed(w http.ResponseWriter, personaID string, err error) {
	if errors.Is(err, speechsvc.ErrDisabled) {
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	logging.Warnw("preview synthesis failed", "component", "persona", "persona", personaID, "error", err)
	utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
}
