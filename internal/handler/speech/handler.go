package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	speechsvc "github.com/zhouzirui/indiana-oracle/backend/internal/service/speech"
	"github.com/zhouzirui/indiana-oracle/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20

// SpeechService is the part of the speech facade the REST routes need.
type SpeechService interface {
	TranscribeWAV(ctx context.Context, wav []byte) (string, error)
	Health() map[string]any
}

type Handler struct {
	speechSvc SpeechService
	timeout   time.Duration
}

func New(speechSvc SpeechService, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{speechSvc: speechSvc, timeout: timeout}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleTranscribe accepts a WAV upload either as the multipart field
// "audio" or as a raw audio/wav body.
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	wav, err := readUpload(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	started := time.Now()
	text, err := h.speechSvc.TranscribeWAV(ctx, wav)
	switch {
	case errors.Is(err, speechsvc.ErrDisabled):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		logging.Warnw("transcription request failed", "component", "asr", "error", err)
		utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"text":      text,
		"elapsedMs": time.Since(started).Milliseconds(),
	})
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if r.Header.Get("Content-Type") == "audio/wav" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.New("failed to read audio body")
		}
		if len(data) == 0 {
			return nil, errors.New("audio body is empty")
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, errors.New("failed to parse multipart form: " + err.Error())
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("audio")
	if err != nil {
		return nil, errors.New("audio file is required")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("failed to read audio file")
	}
	return data, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.speechSvc.Health()
	health["service"] = "speech"
	utils.RespondJSON(w, http.StatusOK, health)
}
