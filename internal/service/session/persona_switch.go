package session

import (
	"fmt"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/telemetry"
)

// SwitchController moves sessions between personas. A failed switch leaves
// the session's persona, binding and history exactly as they were.
type SwitchController struct {
	personas persona.Store
	bindings *BindingCache
	metrics  *telemetry.Metrics
}

func NewSwitchController(personas persona.Store, bindings *BindingCache, metrics *telemetry.Metrics) *SwitchController {
	return &SwitchController{personas: personas, bindings: bindings, metrics: metrics}
}

// Switch binds s to targetID. Unknown ids fail before any event is sent.
func (c *SwitchController) Switch(s *Session, targetID string) (persona.Persona, persona.Binding, error) {
	target, ok := c.personas.FindByID(targetID)
	if !ok {
		return persona.Persona{}, persona.Binding{}, fmt.Errorf("%w: %q", ErrUnknownPersona, targetID)
	}

	ctx := s.LogContext()
	from := s.Persona()
	s.beginSwitch(target.ID)

	if err := s.Emit(NewTransitionStart(target.Effect(), target.ID)); err != nil {
		s.abortSwitch()
		return persona.Persona{}, persona.Binding{}, err
	}

	binding, err := c.bindings.Load(s.Context(), target)
	if err != nil {
		s.abortSwitch()
		if s.Context().Err() != nil {
			return persona.Persona{}, persona.Binding{}, ErrConnectionLost
		}
		c.metrics.PersonaSwitched(ctx, target.ID, "failed")
		logging.WarnwCtx(ctx, "persona switch failed",
			"component", "persona", "from", from.ID, "to", target.ID, "error", err)
		return persona.Persona{}, persona.Binding{}, err
	}

	previous, ok := s.commitSwitch(target, binding)
	if !ok {
		c.bindings.Release(binding)
		return persona.Persona{}, persona.Binding{}, ErrConnectionLost
	}
	c.bindings.Release(previous)
	c.metrics.PersonaSwitched(ctx, target.ID, "ok")
	logging.InfowCtx(ctx, "persona switched",
		"component", "persona", "from", from.ID, "to", target.ID, "avatar_ready", binding.Avatar.Ready)
	return target, binding, nil
}

// Bind loads the session's current persona without a transition or history
// reset. On failure the session keeps its unready binding.
func (c *SwitchController) Bind(s *Session) error {
	current := s.Persona()
	binding, err := c.bindings.Load(s.Context(), current)
	if err != nil {
		if s.Context().Err() != nil {
			return ErrConnectionLost
		}
		logging.WarnwCtx(s.LogContext(), "initial persona binding failed, continuing unready",
			"component", "persona", "error", err)
		return err
	}
	previous, ok := s.setBinding(binding)
	if !ok {
		c.bindings.Release(binding)
		return ErrConnectionLost
	}
	c.bindings.Release(previous)
	return nil
}
