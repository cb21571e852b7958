package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrConnectionLost is terminal: the client connection is gone.
	ErrConnectionLost = errors.New("connection lost")
	// ErrUnknownPersona rejects a switch to an id missing from the catalog.
	ErrUnknownPersona = errors.New("unknown persona")
	// ErrNoActiveStream rejects audio frames outside start/end.
	ErrNoActiveStream = errors.New("no active audio stream")
	// ErrEmptyAudio is returned when a stream ends with nothing buffered.
	ErrEmptyAudio = errors.New("no audio received")
	// ErrInvalidMessage covers malformed or unknown client frames.
	ErrInvalidMessage = errors.New("invalid message")
)

// Wire error codes.
const (
	CodeDecodeError         = "decode_error"
	CodeUnknownPersona      = "unknown_persona"
	CodePersonaLoadFailed   = "persona_load_failed"
	CodeCollaboratorTimeout = "collaborator_timeout"
	CodeCollaboratorFailure = "collaborator_failure"
	CodeConnectionLost      = "connection_lost"
	CodeNoActiveStream      = "no_active_stream"
	CodeEmptyAudio          = "empty_audio"
	CodeInvalidMessage      = "invalid_message"
	CodeInternal            = "internal_error"
)

// DecodeError reports an inbound audio chunk that could not be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode audio chunk: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// PersonaLoadError reports a failed voice or avatar load during a switch.
type PersonaLoadError struct {
	PersonaID string
	Resource  string
	Err       error
}

func (e *PersonaLoadError) Error() string {
	return fmt.Sprintf("load %s for persona %s: %v", e.Resource, e.PersonaID, e.Err)
}

func (e *PersonaLoadError) Unwrap() error { return e.Err }

// Collaborator stages.
const (
	StageTranscription = "transcription"
	StageGeneration    = "generation"
	StageSynthesis     = "synthesis"
	StageAnimation     = "animation"
)

// CollaboratorError wraps a failed or timed out external call.
type CollaboratorError struct {
	Stage   string
	Timeout bool
	Err     error
}

func (e *CollaboratorError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timed out: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// ErrorCode maps err onto the wire error code.
func ErrorCode(err error) string {
	var (
		decodeErr *DecodeError
		loadErr   *PersonaLoadError
		collabErr *CollaboratorError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &decodeErr):
		return CodeDecodeError
	case errors.As(err, &loadErr):
		return CodePersonaLoadFailed
	case errors.As(err, &collabErr):
		if collabErr.Timeout {
			return CodeCollaboratorTimeout
		}
		return CodeCollaboratorFailure
	case errors.Is(err, ErrUnknownPersona):
		return CodeUnknownPersona
	case errors.Is(err, ErrConnectionLost):
		return CodeConnectionLost
	case errors.Is(err, ErrNoActiveStream):
		return CodeNoActiveStream
	case errors.Is(err, ErrEmptyAudio):
		return CodeEmptyAudio
	case errors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	default:
		return CodeInternal
	}
}

// ErrorMessage returns the human readable text sent to clients.
func ErrorMessage(err error) string {
	var collabErr *CollaboratorError
	switch {
	case errors.As(err, &collabErr):
		if collabErr.Timeout {
			return fmt.Sprintf("The %s service took too long to answer.", collabErr.Stage)
		}
		return fmt.Sprintf("The %s service is unavailable right now.", collabErr.Stage)
	case errors.Is(err, ErrUnknownPersona):
		return "That persona does not exist."
	default:
		return err.Error()
	}
}
