package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/indiana-oracle/backend/internal/config"
	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
)

// TTSSampleRate is the PCM rate requested from the synthesis backends.
const TTSSampleRate = 24000

const (
	defaultTTSResource = "volc.service_type.10029"
	megaTTSResource    = "volc.megatts.default"
	seedTTSResource    = "seed-tts-2.0"
)

// VolcengineTTSClient speaks the unidirectional streaming TTS API.
type VolcengineTTSClient struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Additions   string                   `json:"additions,omitempty"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format       string  `json:"format"`
	SampleRate   int     `json:"sample_rate"`
	SpeedRatio   float32 `json:"speed_ratio,omitempty"`
	VolumeRatio  float32 `json:"volume_ratio,omitempty"`
	Emotion      string  `json:"emotion,omitempty"`
	EmotionScale float32 `json:"emotion_scale,omitempty"`
}

func NewVolcengineTTSClient(cfg config.SpeechConfig) *VolcengineTTSClient {
	return &VolcengineTTSClient{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// ResolveVoice picks the speaker and preferred resource for a persona.
func (c *VolcengineTTSClient) ResolveVoice(p persona.Persona) persona.VoiceHandle {
	speakers := resolveTTSSpeakerCandidates(p.VoiceID, c.cfg.TTSVoice)
	speaker := speakers[0]
	return persona.VoiceHandle{
		PersonaID: p.ID,
		Speaker:   speaker,
		Resource:  resolveTTSResourceCandidates(speaker)[0],
	}
}

// OpenStream starts synthesis of text and returns once the first audio frame
// arrived. Speaker and resource candidates are tried in order while the
// vendor reports a resource mismatch.
func (c *VolcengineTTSClient) OpenStream(ctx context.Context, text string, voice persona.VoiceHandle, emotion string) (speechmodel.AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("tts text is empty")
	}
	appID, token, err := resolveCredentials(c.cfg)
	if err != nil {
		return nil, err
	}

	var lastMismatch error
	for _, speaker := range resolveTTSSpeakerCandidates(voice.Speaker, c.cfg.TTSVoice) {
		for _, resource := range resourceCandidatesFor(speaker, voice) {
			stream, err := c.open(ctx, appID, token, text, speaker, resource, emotion)
			if err == nil {
				if speaker != voice.Speaker || resource != voice.Resource {
					logging.Infow("tts fallback voice selected", "component", "tts", "speaker", speaker, "resource", resource)
				}
				return stream, nil
			}
			if !isResourceMismatchError(err) {
				return nil, err
			}
			logging.Warnw("tts resource mismatch", "component", "tts", "speaker", speaker, "resource", resource, "error", err)
			lastMismatch = err
		}
	}
	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("tts: no compatible speaker for %q", voice.Speaker)
}

func resourceCandidatesFor(speaker string, voice persona.VoiceHandle) []string {
	candidates := resolveTTSResourceCandidates(speaker)
	if voice.Resource == "" || !strings.EqualFold(speaker, voice.Speaker) {
		return candidates
	}
	out := []string{voice.Resource}
	for _, r := range candidates {
		if r != voice.Resource {
			out = append(out, r)
		}
	}
	return out
}

func (c *VolcengineTTSClient) open(ctx context.Context, appID, token, text, speaker, resource, emotion string) (*ttsStream, error) {
	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resource)
	header.Set("X-Api-Connect-Id", connectID)

	conn, err := dialVolcengine(ctx, c.dialer, c.cfg.TTSURL, header, "tts")
	if err != nil {
		return nil, err
	}

	req, applied := c.buildTTSRequest(text, speaker, emotion)
	payload, err := json.Marshal(req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newFullClientRequest(payload, NoCompression).Marshal()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	s := &ttsStream{conn: conn, emotion: applied, connectID: connectID}
	first, err := s.read(ctx)
	switch {
	case errors.Is(err, io.EOF):
		conn.Close()
		return nil, errors.New("tts audio is empty")
	case err != nil:
		conn.Close()
		return nil, err
	}
	s.pending = &first
	return s, nil
}

// buildTTSRequest returns the vendor request and the emotion actually applied.
func (c *VolcengineTTSClient) buildTTSRequest(text, speaker, emotion string) (*volcengineTTSRequest, string) {
	req := &volcengineTTSRequest{}
	req.User.UID = uuid.NewString()
	req.ReqParams.Speaker = speaker
	req.ReqParams.Text = text
	req.ReqParams.AudioParams.Format = speechmodel.FormatPCM
	req.ReqParams.AudioParams.SampleRate = TTSSampleRate
	if c.cfg.TTSSpeed > 0 && c.cfg.TTSSpeed != 1.0 {
		req.ReqParams.AudioParams.SpeedRatio = c.cfg.TTSSpeed
	}
	if c.cfg.TTSVolume > 0 && c.cfg.TTSVolume != 1.0 {
		req.ReqParams.AudioParams.VolumeRatio = c.cfg.TTSVolume
	}
	if lang := strings.TrimSpace(c.cfg.TTSLanguage); lang != "" {
		req.ReqParams.Language = lang
	}

	var applied string
	if enable, label, scale := emotionParameters(speaker, emotion); enable {
		req.ReqParams.AudioParams.Emotion = label
		req.ReqParams.AudioParams.EmotionScale = scale
		applied = label
	}
	req.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return req, applied
}

// ttsStream yields one chunk per audio frame from an open vendor session.
type ttsStream struct {
	conn      *websocket.Conn
	emotion   string
	connectID string
	pending   *speechmodel.AudioChunk
	finished  bool

	closeOnce sync.Once
}

func (s *ttsStream) Next(ctx context.Context) (speechmodel.AudioChunk, error) {
	if s.pending != nil {
		chunk := *s.pending
		s.pending = nil
		return chunk, nil
	}
	return s.read(ctx)
}

func (s *ttsStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

func (s *ttsStream) read(ctx context.Context) (speechmodel.AudioChunk, error) {
	for {
		if s.finished {
			return speechmodel.AudioChunk{}, io.EOF
		}
		msg, err := s.readMessage(ctx)
		if err != nil {
			return speechmodel.AudioChunk{}, err
		}

		var audio []byte
		switch msg.Header.Type {
		case ErrorMessage:
			payload, _ := payloadOf(msg)
			return speechmodel.AudioChunk{}, fmt.Errorf("tts error %d: %s", msg.ErrorCode, payload)

		case AudioOnlyServerResponse:
			if audio, err = payloadOf(msg); err != nil {
				return speechmodel.AudioChunk{}, fmt.Errorf("decompress tts audio: %w", err)
			}
			s.finished = msg.IsLastPacket()

		case FullServerResponse:
			payload, err := payloadOf(msg)
			if err != nil {
				return speechmodel.AudioChunk{}, fmt.Errorf("decompress tts payload: %w", err)
			}
			var resp ttsServerMessage
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &resp); err != nil {
					logging.Debugw("tts payload is not json", "component", "tts", "connect_id", s.connectID, "error", err)
				}
			}
			if resp.Code != 0 && resp.Code != 3000 && resp.Code != 20000000 {
				return speechmodel.AudioChunk{}, fmt.Errorf("tts api error %d: %s", resp.Code, resp.Message)
			}
			if msg.Event == EventTypeSessionFailed {
				return speechmodel.AudioChunk{}, fmt.Errorf("tts session failed: %s", payload)
			}
			if resp.Data != "" {
				if audio, err = base64.StdEncoding.DecodeString(resp.Data); err != nil {
					return speechmodel.AudioChunk{}, fmt.Errorf("decode tts audio: %w", err)
				}
			}
			s.finished = msg.Event == EventTypeSessionFinished || msg.IsLastPacket() || resp.Sequence < 0

		default:
			logging.Debugw("unexpected tts frame", "component", "tts", "type", msg.Header.Type)
		}

		if len(audio) > 0 {
			return speechmodel.AudioChunk{
				Data:       audio,
				Format:     speechmodel.FormatPCM,
				SampleRate: TTSSampleRate,
				Emotion:    s.emotion,
			}, nil
		}
	}
}

func (s *ttsStream) readMessage(ctx context.Context) (*Message, error) {
	stop := watchContext(ctx, s.conn)
	_, data, err := s.conn.ReadMessage()
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read tts frame: %w", err)
	}
	msg, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode tts frame: %w", err)
	}
	return msg, nil
}

func resolveTTSResourceCandidates(voice string) []string {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultTTSResource, seedTTSResource}
	}
	if strings.HasPrefix(voice, "S_") {
		return []string{megaTTSResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "neptune", "mercury", "pluto", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedTTSResource, defaultTTSResource}
		}
	}
	return []string{defaultTTSResource, seedTTSResource}
}

// resolveTTSSpeakerCandidates returns the requested speaker followed by the
// configured fallback, aliases resolved and duplicates dropped.
func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string
	add := func(s string) {
		s = NormalizeVoiceAlias(s)
		if s == "" {
			return
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}
	add(requested)
	add(fallback)
	if len(candidates) == 0 {
		return []string{fallback}
	}
	return candidates
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
