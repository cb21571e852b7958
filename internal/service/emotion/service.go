package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/indiana-oracle/backend/internal/analysis/emotion"
	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/conversation"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
)

// Config controls the classifier.
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// Guidance is a detected emotion plus a hint on how to voice the reply.
type Guidance struct {
	Decision   analysis.Decision
	Style      string
	Confidence float32
	Reason     string
}

// Service classifies conversation emotion with the chat model and falls back
// to keyword heuristics whenever the model is disabled or misbehaves.
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(user, assistant string) analysis.Decision
	historyLimit int
}

// NewService builds the tagger. chatModel may be nil, which leaves only the
// heuristic path.
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     analysis.Analyze,
		historyLimit: historyLimit,
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(emotionSystemPrompt),
		schema.UserMessage(emotionUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile emotion classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Tag returns the emotion label for reply, or "" when it is neutral.
func (s *Service) Tag(ctx context.Context, p persona.Persona, history []conversation.Turn, userText, reply string) string {
	g := s.Analyze(ctx, p, history, userText, reply)
	if g.Decision.Emotion == analysis.Neutral {
		return ""
	}
	return string(g.Decision.Emotion)
}

// Analyze predicts the emotion of the exchange. reply may be empty to get
// tone guidance before generating.
func (s *Service) Analyze(ctx context.Context, p persona.Persona, history []conversation.Turn, userText, reply string) Guidance {
	if !s.Enabled() {
		return s.fallbackGuidance(userText, reply)
	}

	input := map[string]any{
		"persona":         summarizePersona(p),
		"history":         formatHistory(history, s.historyLimit),
		"user_message":    strings.TrimSpace(userText),
		"assistant_draft": strings.TrimSpace(reply),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		logging.WarnwCtx(ctx, "emotion classifier failed, using heuristics", "component", "emotion", "error", err)
		return s.fallbackGuidance(userText, reply)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallbackGuidance(userText, reply)
	}

	result, err := parseClassifierOutput(msg.Content)
	if err != nil {
		logging.WarnwCtx(ctx, "emotion classifier output unparseable", "component", "emotion", "error", err)
		return s.fallbackGuidance(userText, reply)
	}

	label, ok := analysis.ParseLabel(result.Emotion)
	if !ok {
		return s.fallbackGuidance(userText, reply)
	}

	scale := analysis.ClampScale(result.Scale)
	decision := analysis.Decision{
		Emotion: label,
		Scale:   scale,
		Score:   int(scale * 2),
	}

	style := strings.TrimSpace(result.Style)
	if style == "" {
		style = defaultStyleByEmotion[decision.Emotion]
	}

	confidence := result.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}

	logging.DebugwCtx(ctx, "emotion classified", "component", "emotion", "label", label, "scale", scale, "confidence", confidence)
	return Guidance{
		Decision:   decision,
		Style:      style,
		Confidence: confidence,
		Reason:     strings.TrimSpace(result.Reason),
	}
}

func (s *Service) fallbackGuidance(userText, reply string) Guidance {
	decision := s.fallback(userText, reply)
	style := defaultStyleByEmotion[decision.Emotion]
	if style == "" {
		style = "Keep a natural, friendly tone."
	}

	confidence := float32(0.3)
	if decision.Score > 0 {
		confidence = 0.55
	}

	return Guidance{
		Decision:   decision,
		Style:      style,
		Confidence: confidence,
		Reason:     "fallback",
	}
}

// parseClassifierOutput extracts the first JSON object from the model reply.
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func summarizePersona(p persona.Persona) string {
	if p.ID == "" {
		return "No particular persona."
	}
	sections := []string{
		"Name: " + strings.TrimSpace(p.Name),
		"Title: " + strings.TrimSpace(p.Title),
	}
	if tone := strings.TrimSpace(p.Tone); tone != "" {
		sections = append(sections, "Usual tone: "+tone)
	}
	return strings.Join(sections, " | ")
}

func formatHistory(turns []conversation.Turn, limit int) string {
	if limit < 1 {
		limit = 1
	}
	start := max(len(turns)-limit, 0)

	lines := make([]string, 0, len(turns)-start)
	for _, turn := range turns[start:] {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := "User"
		if turn.Role == conversation.RoleAssistant {
			role = "Persona"
		}
		lines = append(lines, role+": "+content)
	}
	if len(lines) == 0 {
		return "No earlier conversation."
	}
	return strings.Join(lines, "\n")
}

type classifierPayload struct {
	Emotion    string  `json:"emotion"`
	Scale      float32 `json:"scale"`
	Confidence float32 `json:"confidence"`
	Style      string  `json:"style"`
	Reason     string  `json:"reason"`
}

const emotionSystemPrompt = "You analyse emotion and tone in a spoken conversation. Read the persona, the recent conversation, the user's latest words and the persona's draft reply (which may be empty). Decide which emotion the reply should be voiced with.\n" +
	"Return exactly one JSON object and nothing else, with fields: emotion (one of neutral/happy/sad/angry/excited/tender/comfort/magnetic), scale (a number from 1 to 5, decimals allowed), confidence (0 to 1), style (one sentence on the suggested tone), reason (a short explanation)."

const emotionUserPrompt = "Persona:\n{persona}\n\nRecent conversation:\n{history}\n\nUser said:\n{user_message}\n\nDraft reply (may be empty):\n{assistant_draft}\n\nAnswer with the JSON object."

var defaultStyleByEmotion = map[analysis.Label]string{
	analysis.Neutral:  "Even and patient, keep the information clear.",
	analysis.Happy:    "Light and upbeat, with a little praise.",
	analysis.Sad:      "Soft and empathetic, offer some consolation.",
	analysis.Angry:    "Steady and reasonable, acknowledge the feeling before helping.",
	analysis.Excited:  "Warm and energetic, match the user's excitement.",
	analysis.Tender:   "Gentle and unhurried.",
	analysis.Comfort:  "Warm and reassuring.",
	analysis.Magnetic: "Grounded and confident, well organised.",
}
