package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/indiana-oracle/backend/internal/config"
	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
	"github.com/zhouzirui/indiana-oracle/backend/internal/service/speech"
)

func main() {
	logging.Init()
	defer logging.Sync()

	if err := godotenv.Load(); err != nil {
		logging.Warnw("no .env file loaded, using process environment", "error", err)
	}

	mode := flag.String("mode", "", "asr, tts or session")
	audioPath := flag.String("audio", "", "16-bit mono WAV input (asr; session expects 16 kHz)")
	text := flag.String("text", "", "text to synthesize (tts) or send (session)")
	outputPath := flag.String("out", "", "WAV output path (tts, session)")
	personaID := flag.String("persona", "", "persona id (tts voice, session selection)")
	url := flag.String("url", "ws://localhost:8000/oracle/session", "session endpoint (session)")
	timeout := flag.Duration("timeout", 45*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr", "tts":
		cfg, err := config.Load()
		if err != nil {
			logging.Fatalw("failed to load configuration", "error", err)
		}
		if !cfg.Speech.Enabled {
			logging.Fatalw("speech service disabled: configure SPEECH_APP_ID/SPEECH_ACCESS_TOKEN or OPENAI_API_KEY")
		}
		svc := speech.NewService(cfg.Speech, cfg.Oracle.SampleRate)
		if *mode == "asr" {
			runASR(ctx, svc, *audioPath)
		} else {
			runTTS(ctx, svc, *text, *personaID, *outputPath)
		}
	case "session":
		runSession(ctx, *url, *personaID, *text, *audioPath, *outputPath)
	default:
		flag.Usage()
		logging.Fatalw("choose -mode=asr, -mode=tts or -mode=session")
	}
}

func runASR(ctx context.Context, svc *speech.Service, audioPath string) {
	if audioPath == "" {
		logging.Fatalw("asr mode needs -audio")
	}
	data, err := os.ReadFile(audioPath)
	if err != nil {
		logging.Fatalw("failed to read audio", "path", audioPath, "error", err)
	}

	started := time.Now()
	text, err := svc.TranscribeWAV(ctx, data)
	if err != nil {
		logging.Fatalw("transcription failed", "provider", svc.Provider(), "error", err)
	}
	logging.Infow("transcription finished", "provider", svc.Provider(), "elapsed_ms", time.Since(started).Milliseconds())
	fmt.Println(text)
}

func runTTS(ctx context.Context, svc *speech.Service, text, personaID, outputPath string) {
	if strings.TrimSpace(text) == "" {
		logging.Fatalw("tts mode needs -text")
	}
	p := findPersona(personaID)
	voice, err := svc.LoadVoice(ctx, p)
	if err != nil {
		logging.Fatalw("voice load failed", "persona", p.ID, "error", err)
	}

	started := time.Now()
	stream, err := svc.SynthesizeStream(ctx, text, voice)
	if err != nil {
		logging.Fatalw("synthesis failed", "speaker", voice.Speaker, "error", err)
	}
	audio, err := speech.Collect(ctx, stream)
	if err != nil {
		logging.Fatalw("synthesis stream failed", "speaker", voice.Speaker, "error", err)
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-%s-%d.wav", p.ID, time.Now().Unix())
	}
	writeWAV(outputPath, audio.Data, audio.SampleRate)
	logging.Infow("synthesis finished",
		"speaker", voice.Speaker,
		"bytes", len(audio.Data),
		"elapsed_ms", time.Since(started).Milliseconds(),
		"out", outputPath)
}

// runSession drives a live /oracle/session: optional persona switch, then
// either a spoken utterance from -audio or -text, printing every event.
func runSession(ctx context.Context, url, personaID, text, audioPath, outputPath string) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		logging.Fatalw("dial failed", "url", url, "error", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	events := make(chan map[string]any)
	go func() {
		defer close(events)
		for {
			var ev map[string]any
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			events <- ev
		}
	}()

	send := func(msg map[string]any) {
		if err := conn.WriteJSON(msg); err != nil {
			logging.Fatalw("send failed", "type", msg["type"], "error", err)
		}
	}

	await(events, "welcome", nil)
	if personaID != "" {
		send(map[string]any{"type": "select_persona", "persona_id": personaID})
		await(events, "persona_selected", nil)
	}

	switch {
	case audioPath != "":
		sendAudio(send, audioPath)
	case strings.TrimSpace(text) != "":
		send(map[string]any{"type": "text_input", "text": text})
	default:
		logging.Fatalw("session mode needs -text or -audio")
	}

	var (
		pcm        []byte
		sampleRate int
	)
	await(events, "response_end", func(ev map[string]any) {
		if ev["type"] != "response_chunk" {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(fmt.Sprint(ev["audio"]))
		if err != nil {
			logging.Warnw("bad chunk audio", "error", err)
			return
		}
		pcm = append(pcm, chunk...)
		if rate, ok := ev["sample_rate"].(float64); ok {
			sampleRate = int(rate)
		}
	})

	if outputPath != "" && len(pcm) > 0 {
		writeWAV(outputPath, pcm, sampleRate)
		logging.Infow("response audio saved", "out", outputPath, "bytes", len(pcm))
	}
}

// sendAudio streams a WAV file as 100 ms audio_chunk messages.
func sendAudio(send func(map[string]any), path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.Fatalw("failed to read audio", "path", path, "error", err)
	}
	rate, err := speechmodel.WAVSampleRate(data)
	if err != nil {
		logging.Fatalw("not a wav file", "path", path, "error", err)
	}
	samples, err := speechmodel.DecodeWAV(data, rate)
	if err != nil {
		logging.Fatalw("failed to decode wav", "path", path, "error", err)
	}

	pcm := speechmodel.SamplesToBytes(samples)
	step := rate * 2 / 10
	send(map[string]any{"type": "audio_stream_start"})
	for offset := 0; offset < len(pcm); offset += step {
		end := min(offset+step, len(pcm))
		send(map[string]any{"type": "audio_chunk", "audio": base64.StdEncoding.EncodeToString(pcm[offset:end])})
	}
	send(map[string]any{"type": "audio_stream_end"})
	logging.Infow("audio sent", "samples", len(samples), "sample_rate", rate)
}

// await prints events until one of type want arrives. each sees every event.
func await(events <-chan map[string]any, want string, each func(map[string]any)) {
	for ev := range events {
		printEvent(ev)
		if each != nil {
			each(ev)
		}
		if ev["type"] == want {
			return
		}
	}
	logging.Fatalw("connection closed before event", "want", want)
}

func printEvent(ev map[string]any) {
	if ev["type"] == "response_chunk" {
		fmt.Printf("response_chunk #%v emotion=%v visemes=%d\n", ev["sequence_index"], ev["emotion"], lenOf(ev["visemes"]))
		return
	}
	out, _ := json.Marshal(ev)
	fmt.Println(string(out))
}

func lenOf(v any) int {
	if items, ok := v.([]any); ok {
		return len(items)
	}
	return 0
}

func findPersona(id string) persona.Persona {
	store := persona.NewMemoryStore(persona.Seed())
	if id == "" {
		id = persona.SystemPersonaID
	}
	p, ok := store.FindByID(id)
	if !ok {
		logging.Fatalw("unknown persona", "persona", id, "known", store.IDs())
	}
	return p
}

func writeWAV(path string, pcm []byte, sampleRate int) {
	if sampleRate <= 0 {
		sampleRate = speech.TTSSampleRate
	}
	if err := os.WriteFile(path, speechmodel.BuildWAV(pcm, sampleRate), 0o644); err != nil {
		logging.Fatalw("failed to write audio", "path", path, "error", err)
	}
}
