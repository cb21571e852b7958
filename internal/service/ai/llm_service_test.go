package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/indiana-oracle/backend/internal/analysis/emotion"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/conversation"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	emotionservice "github.com/zhouzirui/indiana-oracle/backend/internal/service/emotion"
)

type fakeModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type fixedAdvisor struct{ label emotion.Label }

func (a fixedAdvisor) Analyze(ctx context.Context, p persona.Persona, history []conversation.Turn, userText, reply string) emotionservice.Guidance {
	return emotionservice.Guidance{Decision: emotion.Decision{Emotion: a.label, Scale: 3}, Style: "Warm and reassuring."}
}

func seedPersona(t *testing.T, id string) persona.Persona {
	t.Helper()
	for _, p := range persona.Seed() {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("persona %s not seeded", id)
	return persona.Persona{}
}

func TestRespondSendsPromptHistoryAndQuery(t *testing.T) {
	m := &fakeModel{reply: "So it goes."}
	svc, err := NewService(context.Background(), m, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	var history []conversation.Turn
	for i := 1; i <= 14; i++ {
		role := conversation.RoleUser
		if i%2 == 0 {
			role = conversation.RoleAssistant
		}
		history = append(history, conversation.Turn{Role: role, Content: fmt.Sprintf("turn %d", i), Ordinal: i})
	}

	reply, err := svc.Respond(context.Background(), seedPersona(t, "kurt-vonnegut"), "Tell me about Indiana", history)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "So it goes." {
		t.Fatalf("unexpected reply %q", reply)
	}

	// system + last 10 turns + query
	if len(m.input) != 12 {
		t.Fatalf("expected 12 messages, got %d", len(m.input))
	}
	if m.input[0].Role != schema.System || !strings.Contains(m.input[0].Content, "Kurt Vonnegut") {
		t.Fatalf("unexpected system message: %+v", m.input[0])
	}
	if m.input[1].Content != "turn 5" || m.input[1].Role != schema.User {
		t.Fatalf("history should start at turn 5, got %+v", m.input[1])
	}
	if m.input[2].Role != schema.Assistant {
		t.Fatalf("expected assistant turn, got %s", m.input[2].Role)
	}
	if last := m.input[11]; last.Role != schema.User || last.Content != "Tell me about Indiana" {
		t.Fatalf("unexpected query message: %+v", last)
	}
}

func TestRespondAddsMoodGuidance(t *testing.T) {
	m := &fakeModel{reply: "There there."}
	svc, err := NewService(context.Background(), m, fixedAdvisor{label: emotion.Comfort})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.Respond(context.Background(), seedPersona(t, "larry-bird"), "I missed the shot", nil); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	system := m.input[0].Content
	if !strings.Contains(system, "need of reassurance") || !strings.Contains(system, "Warm and reassuring.") {
		t.Fatalf("guidance missing from system prompt: %q", system)
	}

	neutral, _ := NewService(context.Background(), m, fixedAdvisor{label: emotion.Neutral})
	if _, err := neutral.Respond(context.Background(), seedPersona(t, "larry-bird"), "hi", nil); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if strings.Contains(m.input[0].Content, "current mood") {
		t.Fatalf("neutral guidance should not change the prompt")
	}
}

func TestRespondWrapsModelError(t *testing.T) {
	boom := errors.New("rate limited")
	svc, err := NewService(context.Background(), &fakeModel{err: boom}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.Respond(context.Background(), seedPersona(t, persona.SystemPersonaID), "hello", nil); err == nil || !strings.Contains(err.Error(), boom.Error()) {
		t.Fatalf("expected wrapped model error, got %v", err)
	}
}

func TestBuildSystemPromptFallsBackForCatalogPersonas(t *testing.T) {
	pm := NewPersonaPromptManager()
	custom := persona.Persona{
		ID:         "james-whitcomb-riley",
		Name:       "James Whitcomb Riley",
		Title:      "The Hoosier Poet",
		Tone:       "sentimental",
		PromptHint: "Speak in dialect now and then.",
		Traits:     []string{"nostalgic"},
	}
	prompt := pm.BuildSystemPrompt(custom)
	for _, want := range []string{"You are James Whitcomb Riley, The Hoosier Poet.", "Speak in dialect", "Traits: nostalgic", "Speaking rules"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}

	for _, p := range persona.Seed() {
		if _, err := pm.GetPromptTemplate(p.ID); err != nil {
			t.Fatalf("seed persona %s has no template", p.ID)
		}
	}
}

func TestNewServiceRequiresModel(t *testing.T) {
	if _, err := NewService(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error without a chat model")
	}
}
