package session

import (
	"context"

	"github.com/zhouzirui/indiana-oracle/backend/internal/model/avatar"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/conversation"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
)

// Transcriber turns buffered 16-bit samples into text. TranscribePartial may
// return "" when nothing useful was recognised yet.
type Transcriber interface {
	TranscribePartial(ctx context.Context, samples []int16) (string, error)
	TranscribeFinal(ctx context.Context, samples []int16) (string, error)
}

// Responder produces the persona's full reply for text given prior turns.
type Responder interface {
	Respond(ctx context.Context, p persona.Persona, text string, history []conversation.Turn) (string, error)
}

// Synthesizer opens a lazy audio stream for text spoken with voice.
type Synthesizer interface {
	SynthesizeStream(ctx context.Context, text string, voice persona.VoiceHandle) (speech.AudioStream, error)
}

// Animator computes facial animation for one audio sub-chunk.
type Animator interface {
	BlendShapes(ctx context.Context, chunk speech.AudioChunk, handle persona.AvatarHandle) (avatar.Frame, error)
}

type VoiceLoader interface {
	LoadVoice(ctx context.Context, p persona.Persona) (persona.VoiceHandle, error)
}

type AvatarLoader interface {
	LoadAvatar(ctx context.Context, p persona.Persona) (persona.AvatarHandle, error)
}

// AvatarReleaser is optionally implemented by AvatarLoaders that hold
// remote resources per handle.
type AvatarReleaser interface {
	ReleaseAvatar(ctx context.Context, handle persona.AvatarHandle) error
}

// BindingReleaser takes back a session's binding when the session ends.
type BindingReleaser interface {
	Release(b persona.Binding)
}

// EmotionTagger labels a reply with an emotion. It never fails; "" means neutral.
type EmotionTagger interface {
	Tag(ctx context.Context, p persona.Persona, history []conversation.Turn, userText, reply string) string
}

// Emitter is the single outbound writer of a session. Send must not be
// called after Close; it returns ErrConnectionLost once the connection is gone.
type Emitter interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}
