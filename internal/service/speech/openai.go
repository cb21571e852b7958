package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/zhouzirui/indiana-oracle/backend/internal/config"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
)

// 200 ms of 24 kHz mono PCM16 per sub-chunk.
const openAIChunkBytes = TTSSampleRate * 2 / 5

// OpenAIClient transcribes and synthesizes through an OpenAI-compatible API.
type OpenAIClient struct {
	client *openai.Client
	cfg    config.SpeechConfig
}

func NewOpenAIClient(cfg config.SpeechConfig, httpClient *http.Client) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIClient{client: &client, cfg: cfg}
}

// ResolveVoice maps the persona voice id onto an OpenAI voice.
func (c *OpenAIClient) ResolveVoice(p persona.Persona) persona.VoiceHandle {
	return persona.VoiceHandle{
		PersonaID: p.ID,
		Speaker:   openAIVoice(p.VoiceID, c.cfg.OpenAIVoice),
		Resource:  c.cfg.OpenAITTSModel,
	}
}

// Transcribe uploads a WAV file and returns the recognised text.
func (c *OpenAIClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "speech.wav", "audio/wav"),
		Model: openai.AudioModel(c.cfg.OpenAISTTModel),
	}
	if lang := isoLanguage(c.cfg.ASRLanguage); lang != "" {
		params.Language = openai.String(lang)
	}
	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return resp.Text, nil
}

// OpenStream requests raw PCM speech and yields it in fixed-size sub-chunks
// as the response body arrives.
func (c *OpenAIClient) OpenStream(ctx context.Context, text string, voice persona.VoiceHandle, emotion string) (speechmodel.AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("tts text is empty")
	}
	model := voice.Resource
	if model == "" {
		model = c.cfg.OpenAITTSModel
	}
	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(model),
		Voice:          openai.AudioSpeechNewParamsVoice(openAIVoice(voice.Speaker, c.cfg.OpenAIVoice)),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if c.cfg.TTSSpeed > 0 && c.cfg.TTSSpeed != 1.0 {
		params.Speed = openai.Float(float64(c.cfg.TTSSpeed))
	}
	resp, err := c.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	return newPCMStream(resp.Body, openAIChunkBytes, TTSSampleRate), nil
}

// pcmStream slices a PCM16 byte stream into sub-chunks. A trailing odd byte
// is dropped.
type pcmStream struct {
	body       io.ReadCloser
	chunkBytes int
	sampleRate int
	done       bool
	closeOnce  sync.Once
}

func newPCMStream(body io.ReadCloser, chunkBytes, sampleRate int) *pcmStream {
	return &pcmStream{body: body, chunkBytes: chunkBytes, sampleRate: sampleRate}
}

func (s *pcmStream) Next(ctx context.Context) (speechmodel.AudioChunk, error) {
	if s.done {
		return speechmodel.AudioChunk{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return speechmodel.AudioChunk{}, err
	}
	stop := context.AfterFunc(ctx, func() { s.body.Close() })
	defer stop()

	buf := make([]byte, s.chunkBytes)
	n, err := io.ReadFull(s.body, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
	default:
		if ctx.Err() != nil {
			return speechmodel.AudioChunk{}, ctx.Err()
		}
		return speechmodel.AudioChunk{}, fmt.Errorf("read speech audio: %w", err)
	}
	n -= n % 2
	if n == 0 {
		return speechmodel.AudioChunk{}, io.EOF
	}
	return speechmodel.AudioChunk{
		Data:       buf[:n],
		Format:     speechmodel.FormatPCM,
		SampleRate: s.sampleRate,
	}, nil
}

func (s *pcmStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.body.Close() })
	return err
}

// isoLanguage reduces a locale such as en-US to its ISO-639-1 code.
func isoLanguage(locale string) string {
	locale = strings.TrimSpace(locale)
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	return strings.ToLower(locale)
}
