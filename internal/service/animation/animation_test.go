package animation

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
)

func sine(n, rate int, freq, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestEnergyAnimatorSilence(t *testing.T) {
	chunk := speech.AudioChunk{Data: speech.SamplesToBytes(make([]int16, 2400)), Format: speech.FormatPCM, SampleRate: 24000}
	frame, err := NewEnergyAnimator().BlendShapes(context.Background(), chunk, persona.AvatarHandle{})
	if err != nil {
		t.Fatalf("BlendShapes err: %v", err)
	}
	if frame.BlendShapes["jawOpen"] != 0 || frame.BlendShapes["mouthClose"] != 1 {
		t.Fatalf("silence should keep the mouth closed: %v", frame.BlendShapes)
	}
	// 100 ms in 20 ms windows.
	if len(frame.Visemes) != 5 {
		t.Fatalf("expected 5 visemes, got %d", len(frame.Visemes))
	}
	for _, v := range frame.Visemes {
		if v.ID != "sil" {
			t.Fatalf("expected silence viseme, got %+v", v)
		}
	}
	if frame.Visemes[4].OffsetMs != 80 {
		t.Fatalf("unexpected offset %d", frame.Visemes[4].OffsetMs)
	}
}

func TestEnergyAnimatorVoiced(t *testing.T) {
	samples := sine(4800, 24000, 440, 0.6)
	chunk := speech.AudioChunk{Data: speech.SamplesToBytes(samples), Format: speech.FormatPCM, SampleRate: 24000}
	frame, err := NewEnergyAnimator().BlendShapes(context.Background(), chunk, persona.AvatarHandle{})
	if err != nil {
		t.Fatalf("BlendShapes err: %v", err)
	}
	if frame.BlendShapes["jawOpen"] <= 0.5 {
		t.Fatalf("loud vowel should open the jaw: %v", frame.BlendShapes)
	}
	if frame.Visemes[0].ID == "sil" || frame.Visemes[0].Weight <= 0 {
		t.Fatalf("unexpected viseme %+v", frame.Visemes[0])
	}
}

func TestEnergyAnimatorWAVAndUnsupported(t *testing.T) {
	wav := speech.BuildWAV(speech.SamplesToBytes(sine(1600, 16000, 3000, 0.5)), 16000)
	frame, err := NewEnergyAnimator().BlendShapes(context.Background(), speech.AudioChunk{Data: wav, Format: speech.FormatWAV}, persona.AvatarHandle{})
	if err != nil || len(frame.Visemes) != 5 {
		t.Fatalf("wav frame = %+v, %v", frame, err)
	}
	if _, err := NewEnergyAnimator().BlendShapes(context.Background(), speech.AudioChunk{Data: []byte{1}, Format: speech.FormatMP3}, persona.AvatarHandle{}); err == nil {
		t.Fatalf("expected error for mp3 input")
	}
}

func TestStaticAvatars(t *testing.T) {
	h, err := StaticAvatars{}.LoadAvatar(context.Background(), persona.Persona{ID: "larry-bird"})
	if err != nil || !h.Ready || h.AvatarID != "larry-bird" {
		t.Fatalf("handle = %+v, %v", h, err)
	}
}

func TestClientRoundTrip(t *testing.T) {
	var released string
	mux := http.NewServeMux()
	mux.HandleFunc("/audio_to_face", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" || r.URL.Query().Get("avatar") != "tok-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !speech.IsWAV(body) {
			http.Error(w, "want wav", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"blend_shapes": map[string]float64{"jawOpen": 0.4},
			"visemes":      []map[string]any{{"id": "aa", "offset_ms": 0, "weight": 0.7}},
		})
	})
	mux.HandleFunc("/avatars/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if !strings.HasSuffix(r.URL.Path, "/oracle-avatar/load") {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(`{"token":"tok-1","ready":true}`))
		case http.MethodDelete:
			released = strings.TrimPrefix(r.URL.Path, "/avatars/")
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL+"/", "secret", srv.Client())
	ctx := context.Background()

	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health err: %v", err)
	}
	handle, err := client.LoadAvatar(ctx, persona.Persona{ID: "main-oracle", AvatarID: "oracle-avatar"})
	if err != nil || handle.Token != "tok-1" || !handle.Ready {
		t.Fatalf("LoadAvatar = %+v, %v", handle, err)
	}

	chunk := speech.AudioChunk{Data: speech.SamplesToBytes(make([]int16, 480)), Format: speech.FormatPCM, SampleRate: 24000}
	frame, err := client.BlendShapes(ctx, chunk, handle)
	if err != nil {
		t.Fatalf("BlendShapes err: %v", err)
	}
	if frame.BlendShapes["jawOpen"] != 0.4 || len(frame.Visemes) != 1 || frame.Visemes[0].ID != "aa" {
		t.Fatalf("unexpected frame %+v", frame)
	}

	if err := client.ReleaseAvatar(ctx, handle); err != nil || released != "tok-1" {
		t.Fatalf("ReleaseAvatar err=%v released=%q", err, released)
	}
}

func TestDecodeFlatFrame(t *testing.T) {
	frame, err := decodeFrame([]byte(`{"jawOpen":0.3,"mouthClose":0.7}`))
	if err != nil || frame.BlendShapes["mouthClose"] != 0.7 || frame.Visemes != nil {
		t.Fatalf("frame = %+v, %v", frame, err)
	}
}

func TestClientReportsStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", nil).BlendShapes(context.Background(), speech.AudioChunk{Data: []byte{0, 0}, Format: speech.FormatPCM, SampleRate: 16000}, persona.AvatarHandle{})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}
