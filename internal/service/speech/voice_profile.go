package speech

import (
	"strings"

	"github.com/zhouzirui/indiana-oracle/backend/internal/analysis/emotion"
)

// Persona voice ids are vendor-neutral; each backend maps them onto its own
// speakers. Unknown ids pass through unchanged.
var volcengineVoiceAliases = map[string]string{
	"kovihoyldrqyd4pgalbs":  "en_male_glen_emo_v2_mars_bigtts",
	"j80pasksbr4awmliaq0jn": "en_male_corey_emo_v2_mars_bigtts",
	"21m00tcm4tlvdq8ikwam":  "en_male_sylus_emo_v2_mars_bigtts",
	"oracle":                "en_male_glen_emo_v2_mars_bigtts",
	"en_default":            "en_female_amy_jupiter_bigtts",
}

var openAIVoiceAliases = map[string]string{
	"kovihoyldrqyd4pgalbs":  "onyx",
	"j80pasksbr4awmliaq0jn": "fable",
	"21m00tcm4tlvdq8ikwam":  "echo",
	"oracle":                "onyx",
}

var openAIVoices = map[string]struct{}{
	"alloy": {}, "ash": {}, "ballad": {}, "coral": {}, "echo": {}, "fable": {},
	"onyx": {}, "nova": {}, "sage": {}, "shimmer": {}, "verse": {},
}

// NormalizeVoiceAlias maps a persona voice id onto a Volcengine speaker.
func NormalizeVoiceAlias(voice string) string {
	voice = strings.TrimSpace(voice)
	if mapped, ok := volcengineVoiceAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

// openAIVoice maps a persona voice id onto an OpenAI voice, or fallback.
func openAIVoice(voice, fallback string) string {
	key := strings.ToLower(strings.TrimSpace(voice))
	if mapped, ok := openAIVoiceAliases[key]; ok {
		return mapped
	}
	if _, ok := openAIVoices[key]; ok {
		return key
	}
	return fallback
}

var volcengineEmotionLabels = map[emotion.Label]string{
	emotion.Happy:    "happy",
	emotion.Sad:      "sad",
	emotion.Angry:    "angry",
	emotion.Excited:  "excited",
	emotion.Tender:   "tender",
	emotion.Comfort:  "comfort",
	emotion.Magnetic: "magnetic",
}

// emotionParameters decides whether a reply tagged label can be voiced with
// an emotion on voice, and at what scale.
func emotionParameters(voice, label string) (enable bool, mapped string, scale float32) {
	l := emotion.Label(strings.ToLower(strings.TrimSpace(label)))
	if l == "" || l == emotion.Neutral || !supportsEmotion(voice) {
		return false, "", 0
	}
	mapped, ok := volcengineEmotionLabels[l]
	if !ok {
		return false, "", 0
	}
	return true, mapped, emotion.DefaultScale(l)
}

func supportsEmotion(voice string) bool {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	return normalized != "" && strings.Contains(normalized, "_emo")
}
