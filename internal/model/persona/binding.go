package persona

// VoiceHandle identifies a loaded TTS voice for one persona.
type VoiceHandle struct {
	PersonaID string `json:"personaId"`
	Speaker   string `json:"speaker"`
	Resource  string `json:"resource,omitempty"`
}

// AvatarHandle identifies a loaded avatar for one persona.
type AvatarHandle struct {
	PersonaID string `json:"personaId"`
	AvatarID  string `json:"avatarId"`
	Token     string `json:"token,omitempty"`
	Ready     bool   `json:"ready"`
}

// Binding is the pair of resources a session uses for its current persona.
type Binding struct {
	Voice  VoiceHandle  `json:"voice"`
	Avatar AvatarHandle `json:"avatar"`
}

// UnreadyBinding derives a binding from the persona's configured ids without
// loading anything. The avatar is reported as not ready.
func UnreadyBinding(p Persona) Binding {
	return Binding{
		Voice:  VoiceHandle{PersonaID: p.ID, Speaker: p.VoiceID},
		Avatar: AvatarHandle{PersonaID: p.ID, AvatarID: p.AvatarID},
	}
}
