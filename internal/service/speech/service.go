package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zhouzirui/indiana-oracle/backend/internal/config"
	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
)

// ErrDisabled is returned by every audio call when no speech backend is
// configured.
var ErrDisabled = errors.New("speech service is not configured")

type backend interface {
	transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
	openStream(ctx context.Context, text string, voice persona.VoiceHandle, emotion string) (speechmodel.AudioStream, error)
	resolveVoice(p persona.Persona) persona.VoiceHandle
}

type volcengineBackend struct {
	tts *VolcengineTTSClient
	asr *VolcengineASRClient
}

func (b volcengineBackend) transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return b.asr.Transcribe(ctx, pcm, sampleRate)
}

func (b volcengineBackend) openStream(ctx context.Context, text string, voice persona.VoiceHandle, emotion string) (speechmodel.AudioStream, error) {
	return b.tts.OpenStream(ctx, text, voice, emotion)
}

func (b volcengineBackend) resolveVoice(p persona.Persona) persona.VoiceHandle {
	return b.tts.ResolveVoice(p)
}

type openAIBackend struct {
	client *OpenAIClient
}

func (b openAIBackend) transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return b.client.Transcribe(ctx, speechmodel.BuildWAV(pcm, sampleRate))
}

func (b openAIBackend) openStream(ctx context.Context, text string, voice persona.VoiceHandle, emotion string) (speechmodel.AudioStream, error) {
	return b.client.OpenStream(ctx, text, voice, emotion)
}

func (b openAIBackend) resolveVoice(p persona.Persona) persona.VoiceHandle {
	return b.client.ResolveVoice(p)
}

// Service is the speech facade used by sessions and REST handlers.
type Service struct {
	cfg        config.SpeechConfig
	sampleRate int
	backend    backend
}

// NewService selects the backend named by cfg.Provider. sampleRate is the
// rate of the PCM handed to the transcription methods.
func NewService(cfg config.SpeechConfig, sampleRate int) *Service {
	s := &Service{cfg: cfg, sampleRate: sampleRate}
	if !cfg.Enabled {
		logging.Warnw("speech service disabled", "component", "tts")
		return s
	}
	switch cfg.Provider {
	case config.SpeechProviderOpenAI:
		s.backend = openAIBackend{client: NewOpenAIClient(cfg, nil)}
	default:
		s.backend = volcengineBackend{tts: NewVolcengineTTSClient(cfg), asr: NewVolcengineASRClient(cfg)}
	}
	logging.Infow("speech service ready", "component", "tts", "provider", cfg.Provider)
	return s
}

func (s *Service) Enabled() bool { return s.backend != nil }

func (s *Service) Provider() string {
	if s.backend == nil {
		return ""
	}
	return s.cfg.Provider
}

// TranscribePartial recognises the audio buffered so far.
func (s *Service) TranscribePartial(ctx context.Context, samples []int16) (string, error) {
	return s.transcribeSamples(ctx, samples)
}

// TranscribeFinal recognises a complete utterance.
func (s *Service) TranscribeFinal(ctx context.Context, samples []int16) (string, error) {
	return s.transcribeSamples(ctx, samples)
}

func (s *Service) transcribeSamples(ctx context.Context, samples []int16) (string, error) {
	if s.backend == nil {
		return "", ErrDisabled
	}
	started := time.Now()
	text, err := s.backend.transcribe(ctx, speechmodel.SamplesToBytes(samples), s.sampleRate)
	if err != nil {
		return "", err
	}
	logging.DebugwCtx(ctx, "transcription finished",
		"component", "asr", "samples", len(samples), "elapsed_ms", time.Since(started).Milliseconds())
	return text, nil
}

// TranscribeWAV recognises an uploaded 16-bit mono WAV file of any rate.
func (s *Service) TranscribeWAV(ctx context.Context, wav []byte) (string, error) {
	if s.backend == nil {
		return "", ErrDisabled
	}
	rate, err := speechmodel.WAVSampleRate(wav)
	if err != nil {
		return "", err
	}
	samples, err := speechmodel.DecodeWAV(wav, rate)
	if err != nil {
		return "", err
	}
	return s.backend.transcribe(ctx, speechmodel.SamplesToBytes(samples), rate)
}

// SynthesizeStream opens a lazy audio stream for text. The emotion attached
// with speechmodel.WithEmotion is applied when the voice supports it.
func (s *Service) SynthesizeStream(ctx context.Context, text string, voice persona.VoiceHandle) (speechmodel.AudioStream, error) {
	if s.backend == nil {
		return nil, ErrDisabled
	}
	return s.backend.openStream(ctx, text, voice, speechmodel.EmotionFrom(ctx))
}

// LoadVoice resolves the persona's voice id to a backend speaker. It does
// not contact the vendor; speaker fallback happens when a stream opens.
func (s *Service) LoadVoice(ctx context.Context, p persona.Persona) (persona.VoiceHandle, error) {
	if err := ctx.Err(); err != nil {
		return persona.VoiceHandle{}, err
	}
	if s.backend == nil {
		return persona.VoiceHandle{PersonaID: p.ID, Speaker: p.VoiceID}, nil
	}
	handle := s.backend.resolveVoice(p)
	logging.Debugw("voice resolved", "component", "tts", "persona", p.ID, "speaker", handle.Speaker, "resource", handle.Resource)
	return handle, nil
}

// Health reports the configured provider without contacting it.
func (s *Service) Health() map[string]any {
	status := "disabled"
	if s.backend != nil {
		status = "ok"
	}
	return map[string]any{
		"status":      status,
		"provider":    s.Provider(),
		"sample_rate": s.sampleRate,
		"timeout":     s.cfg.Timeout.String(),
	}
}

// Collect drains stream into one buffer. All chunks must share a format.
func Collect(ctx context.Context, stream speechmodel.AudioStream) (speechmodel.AudioChunk, error) {
	defer stream.Close()

	var out speechmodel.AudioChunk
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			if len(out.Data) == 0 {
				return out, errors.New("synthesis produced no audio")
			}
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if out.Format == "" {
			out.Format, out.SampleRate, out.Emotion = chunk.Format, chunk.SampleRate, chunk.Emotion
		} else if chunk.Format != out.Format || chunk.SampleRate != out.SampleRate {
			return out, fmt.Errorf("mixed audio formats: %s/%d then %s/%d", out.Format, out.SampleRate, chunk.Format, chunk.SampleRate)
		}
		out.Data = append(out.Data, chunk.Data...)
	}
}
