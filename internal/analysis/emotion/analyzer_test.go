package emotion

import "testing"

func TestAnalyzeSadUserGetsComfort(t *testing.T) {
	decision := Analyze("I feel so sad today", "Tell me what happened, I have all the time in the world.")
	if decision.Emotion != Comfort {
		t.Fatalf("expected comfort emotion, got %s", decision.Emotion)
	}
	if decision.Scale < 1 || decision.Scale > 5 {
		t.Fatalf("emotion scale out of range: %f", decision.Scale)
	}
}

func TestAnalyzeExcitedUser(t *testing.T) {
	decision := Analyze("We won!!! I can't wait for the parade", "Wow, that is something!!")
	if decision.Emotion != Excited {
		t.Fatalf("expected excited emotion, got %s", decision.Emotion)
	}
	if decision.Scale < 1.5 {
		t.Fatalf("expected boosted scale for excitement, got %f", decision.Scale)
	}
}

func TestAnalyzeHappyAIResponse(t *testing.T) {
	decision := Analyze("thanks", "I'm so glad, that is wonderful news")
	if decision.Emotion != Happy && decision.Emotion != Excited {
		t.Fatalf("expected happy/excited emotion, got %s", decision.Emotion)
	}
}

func TestAnalyzeNeutralDefaults(t *testing.T) {
	decision := Analyze("What year was the state founded?", "Indiana joined the union in 1816.")
	if decision.Emotion != Neutral || decision.Scale != 3 {
		t.Fatalf("expected neutral/3, got %s/%f", decision.Emotion, decision.Scale)
	}
}

func TestKeywordsMatchWholeWords(t *testing.T) {
	if got := scoreText("I made a sandwich"); got.Emotion != Neutral {
		t.Fatalf("substring of a keyword should not score, got %s", got.Emotion)
	}
	if got := scoreText("I am mad about it"); got.Emotion != Angry {
		t.Fatalf("expected angry, got %s", got.Emotion)
	}
}

func TestParseLabel(t *testing.T) {
	if l, ok := ParseLabel(" Happy "); !ok || l != Happy {
		t.Fatalf("ParseLabel(Happy) = %q, %v", l, ok)
	}
	if _, ok := ParseLabel("bored"); ok {
		t.Fatalf("unknown label should not parse")
	}
}

func TestClampScaleAndDefaults(t *testing.T) {
	cases := map[float32]float32{-1: 3, 0: 3, 0.5: 1, 2.5: 2.5, 9: 5}
	for in, want := range cases {
		if got := ClampScale(in); got != want {
			t.Fatalf("ClampScale(%v) = %v, want %v", in, got, want)
		}
	}
	for _, l := range Labels {
		if s := DefaultScale(l); s < 1 || s > 5 {
			t.Fatalf("DefaultScale(%s) = %v out of range", l, s)
		}
	}
}
