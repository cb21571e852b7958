package session

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/conversation"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
)

// Phase is the persona state of a session.
type Phase string

const (
	PhaseBound     Phase = "bound"
	PhaseSwitching Phase = "switching"
)

// Session is the state of one live connection. Only the orchestrator loop
// mutates it; the mutex covers concurrent reads from introspection.
type Session struct {
	ID        string
	CreatedAt time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	emitter Emitter

	ledger *Ledger
	audio  *Accumulator

	mu           sync.RWMutex
	persona      persona.Persona
	binding      persona.Binding
	phase        Phase
	switchTarget string
	streamActive bool
	responding   bool
	lastActivity time.Time
	// released is set once teardown has taken the binding.
	released bool
}

// Context is cancelled when the session is destroyed.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Ledger() *Ledger { return s.ledger }

func (s *Session) Audio() *Accumulator { return s.audio }

// Emit sends ev through the session's single writer. After teardown it
// returns ErrConnectionLost without touching the connection.
func (s *Session) Emit(ev Event) error {
	if s.ctx.Err() != nil {
		return ErrConnectionLost
	}
	return s.emitter.Send(s.ctx, ev)
}

func (s *Session) Persona() persona.Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persona
}

func (s *Session) Binding() persona.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.binding
}

func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Session) StreamActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamActive
}

// StartStream marks an audio stream active and resets the buffer.
func (s *Session) StartStream() {
	s.audio.Start()
	s.mu.Lock()
	s.streamActive = true
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// EndStream clears the active flag and drains the buffer.
func (s *Session) EndStream() ([]int16, AccumulatorStats) {
	stats := s.audio.Stats()
	samples := s.audio.Drain()
	s.mu.Lock()
	s.streamActive = false
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return samples, stats
}

// Touch records inbound activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setResponding(v bool) {
	s.mu.Lock()
	s.responding = v
	s.mu.Unlock()
}

func (s *Session) beginSwitch(target string) {
	s.mu.Lock()
	s.phase = PhaseSwitching
	s.switchTarget = target
	s.mu.Unlock()
}

// commitSwitch installs p and binding, resets history and returns to Bound.
// It returns the binding it replaced, or ok=false without installing
// anything when the session was already torn down.
func (s *Session) commitSwitch(p persona.Persona, binding persona.Binding) (previous persona.Binding, ok bool) {
	s.mu.Lock()
	if s.released {
		s.phase = PhaseBound
		s.switchTarget = ""
		s.mu.Unlock()
		return persona.Binding{}, false
	}
	previous = s.binding
	s.persona = p
	s.binding = binding
	s.phase = PhaseBound
	s.switchTarget = ""
	s.mu.Unlock()
	s.ledger.Reset()
	return previous, true
}

// abortSwitch returns to Bound on the previous persona without other changes.
func (s *Session) abortSwitch() {
	s.mu.Lock()
	s.phase = PhaseBound
	s.switchTarget = ""
	s.mu.Unlock()
}

func (s *Session) setBinding(binding persona.Binding) (previous persona.Binding, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return persona.Binding{}, false
	}
	previous = s.binding
	s.binding = binding
	return previous, true
}

// takeBinding marks the session released and returns its binding. Later
// commits are refused.
func (s *Session) takeBinding() persona.Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return s.binding
}

// LogContext returns the session context carrying session and persona fields.
func (s *Session) LogContext() context.Context {
	return logging.WithFields(s.ctx, logging.SessionFields(s.ID, s.Persona().ID)...)
}

// Info is a read-only snapshot for introspection.
type Info struct {
	ID           string              `json:"id"`
	PersonaID    string              `json:"personaId"`
	Phase        Phase               `json:"phase"`
	SwitchTarget string              `json:"switchTarget,omitempty"`
	StreamActive bool                `json:"streamActive"`
	Responding   bool                `json:"responding"`
	AvatarReady  bool                `json:"avatarReady"`
	History      []conversation.Turn `json:"history"`
	Audio        AccumulatorStats    `json:"audio"`
	CreatedAt    time.Time           `json:"createdAt"`
	LastActivity time.Time           `json:"lastActivity"`
}

func (s *Session) Info() Info {
	s.mu.RLock()
	info := Info{
		ID:           s.ID,
		PersonaID:    s.persona.ID,
		Phase:        s.phase,
		SwitchTarget: s.switchTarget,
		StreamActive: s.streamActive,
		Responding:   s.responding,
		AvatarReady:  s.binding.Avatar.Ready,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}
	s.mu.RUnlock()
	info.History = s.ledger.Snapshot()
	info.Audio = s.audio.Stats()
	return info
}
