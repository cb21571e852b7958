package session

import (
	"encoding/base64"

	"github.com/zhouzirui/indiana-oracle/backend/internal/model/avatar"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
)

// Server event types.
const (
	TypeWelcome              = "welcome"
	TypePersonaSelected      = "persona_selected"
	TypeTransitionStart      = "transition_start"
	TypeTranscriptionPartial = "transcription_partial"
	TypeTranscriptionFinal   = "transcription_final"
	TypeResponseStart        = "response_start"
	TypeResponseChunk        = "response_chunk"
	TypeResponseEnd          = "response_end"
	TypeError                = "error"
)

// Event is any server-to-client frame.
type Event interface {
	EventType() string
}

type WelcomeEvent struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	SessionID string            `json:"session_id"`
	Personas  []persona.Persona `json:"personas"`
}

func (e WelcomeEvent) EventType() string { return e.Type }

func NewWelcome(message, sessionID string, personas []persona.Persona) WelcomeEvent {
	return WelcomeEvent{Type: TypeWelcome, Message: message, SessionID: sessionID, Personas: personas}
}

type PersonaSelectedEvent struct {
	Type        string `json:"type"`
	Persona     string `json:"persona"`
	Greeting    string `json:"greeting"`
	AvatarReady bool   `json:"avatar_ready"`
}

func (e PersonaSelectedEvent) EventType() string { return e.Type }

func NewPersonaSelected(personaID, greeting string, avatarReady bool) PersonaSelectedEvent {
	return PersonaSelectedEvent{Type: TypePersonaSelected, Persona: personaID, Greeting: greeting, AvatarReady: avatarReady}
}

type TransitionStartEvent struct {
	Type    string `json:"type"`
	Effect  string `json:"effect"`
	Persona string `json:"persona"`
}

func (e TransitionStartEvent) EventType() string { return e.Type }

func NewTransitionStart(effect, personaID string) TransitionStartEvent {
	return TransitionStartEvent{Type: TypeTransitionStart, Effect: effect, Persona: personaID}
}

// TextEvent carries transcription text.
type TextEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (e TextEvent) EventType() string { return e.Type }

func NewTranscriptionPartial(text string) TextEvent {
	return TextEvent{Type: TypeTranscriptionPartial, Text: text}
}

func NewTranscriptionFinal(text string) TextEvent {
	return TextEvent{Type: TypeTranscriptionFinal, Text: text}
}

type ResponseStartEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Emotion string `json:"emotion,omitempty"`
}

func (e ResponseStartEvent) EventType() string { return e.Type }

func NewResponseStart(text, emotion string) ResponseStartEvent {
	return ResponseStartEvent{Type: TypeResponseStart, Text: text, Emotion: emotion}
}

// ResponseChunkEvent is the wire form of a StreamChunk. Audio is base64.
type ResponseChunkEvent struct {
	Type          string             `json:"type"`
	SequenceIndex int                `json:"sequence_index"`
	Audio         string             `json:"audio"`
	Format        string             `json:"format"`
	SampleRate    int                `json:"sample_rate,omitempty"`
	BlendShapes   map[string]float64 `json:"blend_shapes"`
	Visemes       []avatar.Viseme    `json:"visemes"`
	Emotion       string             `json:"emotion"`
}

func (e ResponseChunkEvent) EventType() string { return e.Type }

// StreamChunk is one synchronized audio plus animation unit of a response.
type StreamChunk struct {
	SequenceIndex int
	Audio         []byte
	Format        string
	SampleRate    int
	Frame         avatar.Frame
	Emotion       string
}

// Event converts the chunk into its wire event.
func (c StreamChunk) Event() ResponseChunkEvent {
	shapes := c.Frame.BlendShapes
	if shapes == nil {
		shapes = map[string]float64{}
	}
	visemes := c.Frame.Visemes
	if visemes == nil {
		visemes = []avatar.Viseme{}
	}
	emotion := c.Emotion
	if emotion == "" {
		emotion = "neutral"
	}
	return ResponseChunkEvent{
		Type:          TypeResponseChunk,
		SequenceIndex: c.SequenceIndex,
		Audio:         base64.StdEncoding.EncodeToString(c.Audio),
		Format:        c.Format,
		SampleRate:    c.SampleRate,
		BlendShapes:   shapes,
		Visemes:       visemes,
		Emotion:       emotion,
	}
}

type ResponseEndEvent struct {
	Type string `json:"type"`
}

func (e ResponseEndEvent) EventType() string { return e.Type }

func NewResponseEnd() ResponseEndEvent {
	return ResponseEndEvent{Type: TypeResponseEnd}
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e ErrorEvent) EventType() string { return e.Type }

// NewErrorEvent builds the advisory error frame for err.
func NewErrorEvent(err error) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: ErrorMessage(err), Code: ErrorCode(err)}
}
