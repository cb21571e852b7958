package session

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	sessionsvc "github.com/zhouzirui/indiana-oracle/backend/internal/service/session"
	"github.com/zhouzirui/indiana-oracle/backend/pkg/utils"
)

// Handler exposes read-only introspection of live sessions.
type Handler struct {
	registry *sessionsvc.Registry
}

func New(registry *sessionsvc.Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{id}", h.handleGetSession)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.List()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if errors.Is(err, sessionsvc.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.Info())
}
