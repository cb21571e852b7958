package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/indiana-oracle/backend/internal/analysis/emotion"
	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/conversation"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	emotionservice "github.com/zhouzirui/indiana-oracle/backend/internal/service/emotion"
)

// HistoryLimit is how many earlier turns are sent with each request.
const HistoryLimit = 10

// ErrDisabled is returned by Disabled.
var ErrDisabled = errors.New("ai service is not configured")

// Disabled is the responder used when no chat model is configured. Every
// reply fails, which sessions report as a generation failure.
type Disabled struct{}

func (Disabled) Respond(context.Context, persona.Persona, string, []conversation.Turn) (string, error) {
	return "", ErrDisabled
}

// ToneAdvisor suggests how to respond to the user before a reply exists.
type ToneAdvisor interface {
	Analyze(ctx context.Context, p persona.Persona, history []conversation.Turn, userText, reply string) emotionservice.Guidance
}

// Service generates persona replies through an eino prompt+model chain.
type Service struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	prompts *PersonaPromptManager
	advisor ToneAdvisor
}

// NewService compiles the reply chain around chatModel. advisor may be nil.
func NewService(ctx context.Context, chatModel model.BaseChatModel, advisor ToneAdvisor) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:   runnable,
		prompts: NewPersonaPromptManager(),
		advisor: advisor,
	}, nil
}

// Respond answers text in the voice of p. history holds the turns before text.
func (s *Service) Respond(ctx context.Context, p persona.Persona, text string, history []conversation.Turn) (string, error) {
	var guidance *emotionservice.Guidance
	if s.advisor != nil {
		g := s.advisor.Analyze(ctx, p, history, text, "")
		guidance = &g
	}

	response, err := s.chain.Invoke(ctx, s.buildChainInput(p, history, text, guidance))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", fmt.Errorf("AI chain returned no message")
	}

	logging.DebugwCtx(ctx, "reply generated", "component", "ai", "persona", p.ID, "history", len(history), "length", len(response.Content))
	return response.Content, nil
}

func (s *Service) buildChainInput(p persona.Persona, history []conversation.Turn, text string, guidance *emotionservice.Guidance) map[string]any {
	return map[string]any{
		"system":  s.buildSystemPrompt(p, guidance),
		"history": buildHistoryMessages(history),
		"query":   text,
	}
}

func (s *Service) buildSystemPrompt(p persona.Persona, guidance *emotionservice.Guidance) string {
	base := s.prompts.BuildSystemPrompt(p)
	if guidance == nil {
		return base
	}

	decision := guidance.Decision
	if decision.Emotion == "" || decision.Emotion == emotion.Neutral {
		return base
	}

	var builder strings.Builder
	builder.WriteString(base)
	builder.WriteString("\n\nThe visitor's current mood: ")
	if desc := describeEmotion(decision.Emotion); desc != "" {
		builder.WriteString(desc)
	} else {
		builder.WriteString("emotion=" + string(decision.Emotion) + ".")
	}
	fmt.Fprintf(&builder, " Intensity about %.1f of 5.", decision.Scale)
	if guidance.Style != "" {
		builder.WriteString("\nSuggested tone: ")
		builder.WriteString(guidance.Style)
	}
	builder.WriteString("\nStay in character, but let that mood shape how you answer.")
	return builder.String()
}

func buildHistoryMessages(turns []conversation.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}
	start := max(len(turns)-HistoryLimit, 0)

	history := make([]*schema.Message, 0, len(turns)-start)
	for _, turn := range turns[start:] {
		switch turn.Role {
		case conversation.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case conversation.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

func describeEmotion(label emotion.Label) string {
	switch label {
	case emotion.Happy:
		return "cheerful and positive; keep it light and appreciative."
	case emotion.Sad:
		return "low or sad; be gentle and understanding."
	case emotion.Angry:
		return "irritated or upset; stay calm and reasonable and help them settle."
	case emotion.Excited:
		return "excited; match their energy."
	case emotion.Tender:
		return "looking for a soft, unhurried exchange."
	case emotion.Comfort:
		return "in need of reassurance; make them feel safe."
	case emotion.Magnetic:
		return "looking for firm, confident guidance."
	default:
		return ""
	}
}
