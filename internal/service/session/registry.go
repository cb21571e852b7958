package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/telemetry"
)

// RegistryConfig configures new sessions. Bindings, when set, gets each
// session's binding back on Destroy.
type RegistryConfig struct {
	DefaultPersona persona.Persona
	SampleRate     int
	ReadyWindow    time.Duration
	Bindings       BindingReleaser
}

// Registry owns the set of live sessions.
type Registry struct {
	cfg     RegistryConfig
	metrics *telemetry.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewRegistry returns an empty registry. metrics may be nil.
func NewRegistry(cfg RegistryConfig, metrics *telemetry.Metrics) *Registry {
	if cfg.DefaultPersona.ID == "" {
		cfg.DefaultPersona = persona.Seed()[0]
	}
	return &Registry{
		cfg:      cfg,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Create registers a session bound (unready) to the default persona. The
// session context derives from parent; emitter becomes owned by the session.
func (r *Registry) Create(parent context.Context, emitter Emitter) (*Session, error) {
	if emitter == nil {
		return nil, errors.New("session emitter is required")
	}

	ctx, cancel := context.WithCancel(parent)
	now := time.Now().UTC()
	s := &Session{
		ID:           "session_" + uuid.NewString(),
		CreatedAt:    now,
		ctx:          ctx,
		cancel:       cancel,
		emitter:      emitter,
		ledger:       NewLedger(),
		audio:        NewAccumulator(r.cfg.SampleRate, r.cfg.ReadyWindow),
		persona:      r.cfg.DefaultPersona,
		binding:      persona.UnreadyBinding(r.cfg.DefaultPersona),
		phase:        PhaseBound,
		lastActivity: now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.wg.Add(1)
	active := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SessionOpened(ctx)
	logging.Infow("session created", append(logging.SessionFields(s.ID, s.persona.ID),
		"component", "registry", "active", active)...)
	return s, nil
}

// Get returns the live session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Destroy cancels outstanding work for id, closes its writer and releases its
// buffers and binding. Destroying an unknown or already destroyed session is
// a no-op.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	active := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.cancel()
	if err := s.emitter.Close(); err != nil {
		logging.Debugw("session emitter close failed", "component", "registry", "session.id", id, "error", err)
	}
	s.audio.Release()
	binding := s.takeBinding()
	if r.cfg.Bindings != nil {
		r.cfg.Bindings.Release(binding)
	}

	r.metrics.SessionClosed(context.Background())
	logging.Infow("session destroyed", append(logging.SessionFields(id, s.Persona().ID),
		"component", "registry", "active", active,
		"lifetime_ms", time.Since(s.CreatedAt).Milliseconds())...)
	r.wg.Done()
}

// List returns snapshots of every live session ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll destroys every live session, used on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Destroy(id)
	}
	return len(ids)
}

// Wait blocks until every created session has been destroyed or ctx ends.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
