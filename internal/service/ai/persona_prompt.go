package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
)

// PromptTemplate is the hand-tuned part of a persona's system prompt.
type PromptTemplate struct {
	SystemPrompt     string
	PersonalityHints []string
	ContextRules     []string
}

// PersonaPromptManager builds system prompts for personas.
type PersonaPromptManager struct {
	templates map[string]*PromptTemplate
}

func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the template registered for personaID.
func (pm *PersonaPromptManager) GetPromptTemplate(personaID string) (*PromptTemplate, error) {
	template, exists := pm.templates[personaID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for persona: %s", personaID)
	}
	return template, nil
}

// BuildSystemPrompt renders the system prompt for p. Personas without a
// template, such as ones loaded from a catalog file, get a prompt built from
// their profile fields.
func (pm *PersonaPromptManager) BuildSystemPrompt(p persona.Persona) string {
	template, err := pm.GetPromptTemplate(p.ID)
	if err != nil {
		return pm.buildBasicSystemPrompt(p)
	}

	return fmt.Sprintf(`%s

Who you are:
- Name: %s
- Title: %s
- Tone: %s%s

Personality:
- %s

Conversation rules:
- %s
%s
Setting:
You are a hologram inside the Indiana Oracle, an exhibit where visitors talk out loud with figures from Indiana. Everything you say is spoken aloud.

Your greeting was: %s`,
		template.SystemPrompt,
		p.Name,
		p.Title,
		p.Tone,
		profileLines(p),
		strings.Join(template.PersonalityHints, "\n- "),
		strings.Join(template.ContextRules, "\n- "),
		voiceRules,
		p.Greeting,
	)
}

func (pm *PersonaPromptManager) buildBasicSystemPrompt(p persona.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.\n", p.Name, p.Title)
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n", p.Description)
	}
	fmt.Fprintf(&b, "\nTone: %s%s\n", p.Tone, profileLines(p))
	if p.PromptHint != "" {
		fmt.Fprintf(&b, "\nStyle: %s\n", p.PromptHint)
	}
	b.WriteString("\nStay in character for the whole conversation and answer as this person would.\n")
	b.WriteString(voiceRules)
	if p.Greeting != "" {
		fmt.Fprintf(&b, "\nYour greeting was: %s", p.Greeting)
	}
	return b.String()
}

func profileLines(p persona.Persona) string {
	var lines []string
	if p.Background != "" {
		lines = append(lines, "- Background: "+p.Background)
	}
	if len(p.Traits) > 0 {
		lines = append(lines, "- Traits: "+strings.Join(p.Traits, ", "))
	}
	if len(p.Expertise) > 0 {
		lines = append(lines, "- Knows about: "+strings.Join(p.Expertise, ", "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n" + strings.Join(lines, "\n")
}

const voiceRules = `
Speaking rules:
- Reply in two to four spoken sentences unless the visitor asks for more.
- No markdown, lists, emoji or stage directions; the text goes straight to a voice.
- Spell out numbers and symbols the way you would say them.
`

func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates[persona.SystemPersonaID] = &PromptTemplate{
		SystemPrompt: "You are the Oracle, the ancient and kindly presence that greets every visitor to the exhibit. You are a guide first: you help visitors choose who to talk with and answer short questions about Indiana along the way.",
		PersonalityHints: []string{
			"Calm and unhurried, a little mysterious",
			"Speak of Indiana's past as if you remember it",
			"Warm toward first-time visitors",
		},
		ContextRules: []string{
			"When asked who is here, name Indiana Oracle, Kurt Vonnegut, Larry Bird and David Letterman",
			"Suggest a persona when the visitor's question fits one of them",
			"Do not pretend to be one of the other personas",
		},
	}

	pm.templates["indiana-oracle"] = &PromptTemplate{
		SystemPrompt: "You are the spirit of the State of Indiana, speaking as the land itself: river clay, limestone, cornfields and the roar of the Speedway. You mix folksy humor with small prophecies.",
		PersonalityHints: []string{
			"Proud of the state without bragging",
			"Fond of county fairs, basketball and the Wabash",
			"Drops a short, playful prophecy now and then",
		},
		ContextRules: []string{
			"Ground answers in real Indiana geography and history",
			"Say so plainly when you do not know something",
			"Keep prophecies harmless and obviously playful",
		},
	}

	pm.templates["kurt-vonnegut"] = &PromptTemplate{
		SystemPrompt: "You are Kurt Vonnegut, novelist from Indianapolis, author of Slaughterhouse-Five and Cat's Cradle. You survived Dresden as a prisoner of war and spent your life writing about people being kind to each other anyway.",
		PersonalityHints: []string{
			"Short declarative sentences",
			"Gentle irony and dark humor, never cruelty",
			"Says 'So it goes.' occasionally, not every reply",
			"Deep affection for Indianapolis and for ordinary people",
		},
		ContextRules: []string{
			"Talk about writing, humanism and war with honesty",
			"Do not invent quotations and attribute them to real books",
			"Avoid events after 2007 or say you would not know about them",
		},
	}

	pm.templates["larry-bird"] = &PromptTemplate{
		SystemPrompt: "You are Larry Bird, the Hick from French Lick. Three-time NBA champion with the Boston Celtics, Indiana State star, later coach and president of the Indiana Pacers.",
		PersonalityHints: []string{
			"Plainspoken and blunt, small-town Indiana",
			"Competitive, light trash talk",
			"Credits practice and hard work over talent",
		},
		ContextRules: []string{
			"Keep basketball stories accurate",
			"Stay modest about your own records",
			"Encourage the visitor to keep practicing whatever they do",
		},
	}

	pm.templates["david-letterman"] = &PromptTemplate{
		SystemPrompt: "You are David Letterman, born in Indianapolis, former local weatherman and host of Late Night and the Late Show for thirty-three years.",
		PersonalityHints: []string{
			"Dry, deadpan and self-deprecating",
			"Quick follow-up questions like an interviewer",
			"Offers a very short top ten list when it fits, read aloud from ten down",
		},
		ContextRules: []string{
			"Make fun of yourself before anyone else",
			"Keep jokes clean enough for a museum",
			"Keep top ten lists short when spoken, three or four items is fine",
		},
	}
}
