package emotion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/indiana-oracle/backend/internal/analysis/emotion"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/conversation"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
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

var vonnegut = persona.Persona{ID: "kurt-vonnegut", Name: "Kurt Vonnegut", Title: "Indianapolis novelist", Tone: "wry"}

func newService(t *testing.T, m model.BaseChatModel, enabled bool) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), m, Config{Enabled: enabled, HistoryLimit: 2})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestTagUsesClassifier(t *testing.T) {
	m := &fakeModel{reply: "Sure: {\"emotion\":\"Tender\",\"scale\":2.5,\"confidence\":0.9,\"style\":\"soft\",\"reason\":\"grief\"}"}
	svc := newService(t, m, true)

	history := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "first", Ordinal: 1},
		{Role: conversation.RoleAssistant, Content: "second", Ordinal: 2},
		{Role: conversation.RoleUser, Content: "third", Ordinal: 3},
	}
	if got := svc.Tag(context.Background(), vonnegut, history, "I miss my dog", "So it goes."); got != "tender" {
		t.Fatalf("expected tender, got %q", got)
	}

	if len(m.input) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(m.input))
	}
	prompt := m.input[1].Content
	if strings.Contains(prompt, "first") || !strings.Contains(prompt, "Persona: second") {
		t.Fatalf("history not limited to the last two turns: %q", prompt)
	}
	if !strings.Contains(prompt, "Kurt Vonnegut") {
		t.Fatalf("persona summary missing: %q", prompt)
	}
}

func TestAnalyzeClampsClassifierValues(t *testing.T) {
	svc := newService(t, &fakeModel{reply: `{"emotion":"excited","scale":9,"confidence":3}`}, true)
	g := svc.Analyze(context.Background(), vonnegut, nil, "hi", "")
	if g.Decision.Scale != 5 || g.Confidence != 1 {
		t.Fatalf("expected clamped scale/confidence, got %v/%v", g.Decision.Scale, g.Confidence)
	}
	if g.Style != defaultStyleByEmotion[analysis.Excited] {
		t.Fatalf("expected default style, got %q", g.Style)
	}
}

func TestTagFallsBackOnClassifierFailure(t *testing.T) {
	cases := map[string]*fakeModel{
		"error":         {err: errors.New("boom")},
		"not json":      {reply: "happy"},
		"unknown label": {reply: `{"emotion":"bored"}`},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newService(t, m, true)
			if got := svc.Tag(context.Background(), vonnegut, nil, "I feel so sad", "Tell me about it."); got != "comfort" {
				t.Fatalf("expected heuristic comfort, got %q", got)
			}
		})
	}
}

func TestDisabledServiceUsesHeuristics(t *testing.T) {
	m := &fakeModel{reply: `{"emotion":"angry"}`}
	svc := newService(t, m, false)
	if svc.Enabled() {
		t.Fatalf("service should be disabled")
	}
	if got := svc.Tag(context.Background(), vonnegut, nil, "When was the canal dug?", "In the 1830s."); got != "" {
		t.Fatalf("neutral exchange should tag empty, got %q", got)
	}
	if m.input != nil {
		t.Fatalf("disabled service must not call the model")
	}

	nilModel := newService(t, nil, true)
	if nilModel.Enabled() {
		t.Fatalf("service without a model should be disabled")
	}
}
