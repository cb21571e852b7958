package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/middleware"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/service/session"
	"github.com/zhouzirui/indiana-oracle/backend/internal/telemetry"
)

// WelcomeMessage greets every new session.
const WelcomeMessage = "Welcome to the Indiana Oracle. Who would you like to speak with?"

const maxFrameBytes = 4 << 20

// Client message types.
const (
	msgSelectPersona    = "select_persona"
	msgAudioStreamStart = "audio_stream_start"
	msgAudioChunk       = "audio_chunk"
	msgAudioStreamEnd   = "audio_stream_end"
	msgTextInput        = "text_input"
)

// Config tunes connection handling.
type Config struct {
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	InboundQueue   int
	OutboundQueue  int
	AllowedOrigins []string
}

// Deps are the session services the orchestrator drives.
type Deps struct {
	Registry *session.Registry
	Personas persona.Store
	Switcher *session.SwitchController
	Pipeline *session.Pipeline
	Metrics  *telemetry.Metrics
}

// Handler runs one orchestrator loop per WebSocket connection.
type Handler struct {
	deps     Deps
	cfg      Config
	upgrader websocket.Upgrader
}

func NewHandler(deps Deps, cfg Config) *Handler {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.InboundQueue <= 0 {
		cfg.InboundQueue = 64
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = 64
	}
	origins := cfg.AllowedOrigins
	return &Handler{
		deps: deps,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(origins, r.Header.Get("Origin"))
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes mounts the session endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/oracle/session", h.handleSession)
}

type clientMessage struct {
	Type      string `json:"type"`
	PersonaID string `json:"persona_id"`
	Audio     string `json:"audio"`
	Text      string `json:"text"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("websocket upgrade failed", "component", "websocket", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	connCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writer := newOutboundWriter(conn, writerConfig{
		PingInterval: h.cfg.PingInterval,
		WriteTimeout: h.cfg.WriteTimeout,
		QueueSize:    h.cfg.OutboundQueue,
	}, func(error) { cancel() })

	s, err := h.deps.Registry.Create(connCtx, writer)
	if err != nil {
		logging.Errorw("session create failed", "component", "websocket", "error", err)
		_ = writer.Close()
		return
	}
	defer h.deps.Registry.Destroy(s.ID)

	inbound := make(chan []byte, h.cfg.InboundQueue)
	go h.readLoop(s, conn, inbound, writer, cancel)

	h.serve(s, inbound)
}

// readLoop feeds frames into inbound in arrival order. A read failure is a
// lost connection: it cancels the session so in-flight work stops.
func (h *Handler) readLoop(s *session.Session, conn *websocket.Conn, inbound chan<- []byte, writer *outboundWriter, cancel context.CancelFunc) {
	defer close(inbound)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		// The deadline starts after the previous frame was queued, so time
		// spent blocked on a full inbound queue does not count against it.
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && s.Context().Err() == nil {
				logging.WarnwCtx(s.LogContext(), "websocket read failed", "component", "websocket", "error", err)
			}
			writer.markLost()
			cancel()
			return
		}

		select {
		case inbound <- data:
		case <-s.Context().Done():
			return
		}
	}
}

// serve is the session's orchestrator loop. Frames are handled one at a
// time, so a response-triggering frame that arrives during a run waits in
// the inbound queue until the run's response_end has been sent.
func (h *Handler) serve(s *session.Session, inbound <-chan []byte) {
	ctx := s.LogContext()

	if err := h.deps.Switcher.Bind(s); errors.Is(err, session.ErrConnectionLost) {
		return
	}
	if err := s.Emit(session.NewWelcome(WelcomeMessage, s.ID, h.deps.Personas.List())); err != nil {
		return
	}
	logging.InfowCtx(ctx, "session ready", "component", "websocket", "avatar_ready", s.Binding().Avatar.Ready)

	for {
		select {
		case <-s.Context().Done():
			return
		case data, ok := <-inbound:
			if !ok {
				return
			}
			if err := h.dispatch(s, data); errors.Is(err, session.ErrConnectionLost) {
				logging.InfowCtx(s.LogContext(), "session connection lost", "component", "websocket")
				return
			}
		}
	}
}

func (h *Handler) dispatch(s *session.Session, data []byte) error {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return h.reject(s, fmt.Errorf("%w: malformed json", session.ErrInvalidMessage))
	}
	s.Touch()

	switch msg.Type {
	case msgSelectPersona:
		return h.handleSelectPersona(s, msg.PersonaID)
	case msgAudioStreamStart:
		s.StartStream()
		logging.DebugwCtx(s.LogContext(), "audio stream started", "component", "websocket")
		return nil
	case msgAudioChunk:
		return h.handleAudioChunk(s, msg.Audio)
	case msgAudioStreamEnd:
		return h.handleAudioStreamEnd(s)
	case msgTextInput:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return h.reject(s, fmt.Errorf("%w: text is required", session.ErrInvalidMessage))
		}
		return h.respond(s, text)
	case "":
		return h.reject(s, fmt.Errorf("%w: type is required", session.ErrInvalidMessage))
	default:
		return h.reject(s, fmt.Errorf("%w: unsupported type %q", session.ErrInvalidMessage, msg.Type))
	}
}

func (h *Handler) handleSelectPersona(s *session.Session, personaID string) error {
	personaID = strings.TrimSpace(personaID)
	if personaID == "" {
		return h.reject(s, fmt.Errorf("%w: persona_id is required", session.ErrInvalidMessage))
	}

	p, binding, err := h.deps.Switcher.Switch(s, personaID)
	if err != nil {
		return h.reject(s, err)
	}
	return s.Emit(session.NewPersonaSelected(p.ID, p.Greeting, binding.Avatar.Ready))
}

func (h *Handler) handleAudioChunk(s *session.Session, audio string) error {
	if !s.StreamActive() {
		return h.reject(s, session.ErrNoActiveStream)
	}

	ready, err := s.Audio().Append(audio)
	if err != nil {
		h.deps.Metrics.AudioDecodeFailed(s.Context())
		logging.DebugwCtx(s.LogContext(), "audio chunk dropped", "component", "websocket", "error", err)
		return h.reject(s, err)
	}
	if !ready {
		return nil
	}

	text := h.deps.Pipeline.TranscribePartial(s, s.Audio().Snapshot())
	if s.Context().Err() != nil {
		return session.ErrConnectionLost
	}
	if text == "" {
		return nil
	}
	return s.Emit(session.NewTranscriptionPartial(text))
}

func (h *Handler) handleAudioStreamEnd(s *session.Session) error {
	if !s.StreamActive() {
		return h.reject(s, session.ErrNoActiveStream)
	}

	samples, stats := s.EndStream()
	logging.InfowCtx(s.LogContext(), "audio stream ended",
		append([]interface{}{"component", "websocket", "estimated_seconds", stats.EstimatedSeconds},
			logging.AccumFields(stats.BufferSize, stats.ChunksReceived, int(stats.Duration.Milliseconds()))...)...)
	if len(samples) == 0 {
		return h.reject(s, session.ErrEmptyAudio)
	}

	text, err := h.deps.Pipeline.TranscribeFinal(s, samples)
	if err != nil {
		return h.reject(s, err)
	}
	if err := s.Emit(session.NewTranscriptionFinal(text)); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return h.respond(s, text)
}

// respond runs the pipeline. Failures other than a lost connection were
// already reported to the client by the pipeline.
func (h *Handler) respond(s *session.Session, text string) error {
	if err := h.deps.Pipeline.Run(s, text); errors.Is(err, session.ErrConnectionLost) {
		return err
	}
	return nil
}

// reject reports err as an advisory error event. A lost connection is
// passed through without writing.
func (h *Handler) reject(s *session.Session, err error) error {
	if errors.Is(err, session.ErrConnectionLost) {
		return err
	}
	return s.Emit(session.NewErrorEvent(err))
}
