package emotion

import (
	"math"
	"strings"
)

// Label is an emotion the speech backend can voice.
type Label string

const (
	Neutral  Label = "neutral"
	Happy    Label = "happy"
	Sad      Label = "sad"
	Angry    Label = "angry"
	Excited  Label = "excited"
	Tender   Label = "tender"
	Comfort  Label = "comfort"
	Magnetic Label = "magnetic"
)

// Labels lists every label in a stable order.
var Labels = []Label{Neutral, Happy, Sad, Angry, Excited, Tender, Comfort, Magnetic}

// Decision is the detected emotion with a suggested intensity on a 1..5 scale.
type Decision struct {
	Emotion Label
	Scale   float32
	Score   int
}

var keywordBuckets = map[Label][]string{
	Happy: {
		"happy", "glad", "great", "awesome", "amazing", "thanks", "thank you", "love", "lovely",
		"wonderful", "delighted", "fun", "haha", "lol", "nice", "pleased", "enjoy", "cheers",
	},
	Sad: {
		"sad", "unhappy", "cry", "crying", "depressed", "tragedy", "upset", "hurt", "sorrow",
		"lonely", "miss", "grief", "heartbroken", "disappointed", "lost", "tears", "gloomy",
	},
	Angry: {
		"angry", "furious", "rage", "mad", "annoyed", "pissed", "outrage", "hate", "sick of",
		"fed up", "ridiculous", "unfair", "stupid", "infuriating", "storm off",
	},
	Excited: {
		"can't wait", "cannot wait", "wow", "unbelievable", "incredible", "hype", "thrilled",
		"excited", "let's go", "superb", "fantastic", "epic", "championship", "victory",
	},
	Tender: {
		"gentle", "softly", "soft", "calm", "quiet", "slowly", "tender", "peaceful", "warm",
		"sweet", "dear", "kind", "careful", "hush",
	},
	Comfort: {
		"don't worry", "it's okay", "it's ok", "i understand", "i'm here", "we are here", "for you",
		"calm down", "breathe", "take it easy", "you're safe", "you are safe", "hug", "support",
		"no rush", "you'll be fine",
	},
	Magnetic: {
		"serious", "important", "must", "responsibility", "focus", "critical", "remember",
		"listen", "essential", "never forget", "pay attention", "crucial", "mark my words",
	},
}

var punctuationBoost = map[Label]int{
	Happy:   2,
	Excited: 3,
}

// Analyze infers the voice emotion for a reply from the user's utterance and
// the reply itself.
func Analyze(userUtterance, aiUtterance string) Decision {
	userScore := scoreText(userUtterance)
	aiScore := scoreText(aiUtterance)

	finalScore := aiScore
	// A flat reply borrows an empathetic counterpart of the user's mood.
	if finalScore.Score == 0 && userScore.Score > 0 {
		finalScore = coerceEmotionFromUser(userScore)
	}

	if finalScore.Score == 0 {
		return Decision{Emotion: Neutral, Scale: 3, Score: 0}
	}

	scale := 2 + float32(finalScore.Score)/4
	if finalScore.Emotion == Excited {
		scale += 1
	}
	if finalScore.Emotion == Magnetic {
		scale = float32(math.Min(4.0, float64(scale)))
	}
	if finalScore.Emotion == Comfort || finalScore.Emotion == Tender {
		scale = float32(math.Min(3.5, float64(scale)))
	}

	return Decision{Emotion: finalScore.Emotion, Scale: ClampScale(scale), Score: finalScore.Score}
}

// DefaultScale is the intensity used when a label arrives without one.
func DefaultScale(l Label) float32 {
	switch l {
	case Excited:
		return 4
	case Happy, Angry, Sad, Magnetic:
		return 3.5
	default:
		return 3
	}
}

// ParseLabel accepts a label in any case.
func ParseLabel(raw string) (Label, bool) {
	l := Label(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Labels {
		if l == known {
			return l, true
		}
	}
	return "", false
}

// ClampScale bounds val to 1..5. A non-positive value means "unspecified".
func ClampScale(val float32) float32 {
	switch {
	case val <= 0:
		return 3
	case val < 1:
		return 1
	case val > 5:
		return 5
	}
	return val
}

func scoreText(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Emotion: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if containsWord(normalized, word) {
				scores[label] += 3
			}
		}
	}

	exclamations := strings.Count(text, "!")
	if exclamations > 0 {
		scores[Excited] += exclamations * punctuationBoost[Excited]
		if exclamations == 1 {
			scores[Happy] += punctuationBoost[Happy]
		}
	}

	// Iterate in a fixed order so ties resolve the same way every time.
	bestLabel := Neutral
	bestScore := 0
	for _, label := range Labels {
		if s := scores[label]; s > bestScore {
			bestScore = s
			bestLabel = label
		}
	}

	if bestScore == 0 {
		return Decision{Emotion: Neutral}
	}
	return Decision{Emotion: bestLabel, Score: bestScore}
}

// containsWord matches phrase in text on word boundaries, so "mad" does not
// fire inside "made".
func containsWord(text, phrase string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		if (i == 0 || !isLetter(text[i-1])) && (end == len(text) || !isLetter(text[end])) {
			return true
		}
		start = i + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || b == '\''
}

func coerceEmotionFromUser(user Decision) Decision {
	switch user.Emotion {
	case Sad:
		return Decision{Emotion: Comfort, Score: user.Score}
	case Angry:
		return Decision{Emotion: Magnetic, Score: user.Score}
	case Excited:
		return Decision{Emotion: Excited, Score: user.Score}
	case Happy:
		return Decision{Emotion: Happy, Score: user.Score}
	case Tender, Comfort:
		return Decision{Emotion: Tender, Score: user.Score}
	default:
		return user
	}
}
