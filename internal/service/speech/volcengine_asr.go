package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/indiana-oracle/backend/internal/config"
	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
)

const (
	asrResourceID = "volc.bigasr.sauc.duration"
	// 200 ms of 16 kHz mono PCM16.
	asrFrameMillis = 200
)

// VolcengineASRClient sends a finished utterance to the big-model ASR API and
// waits for the final transcript.
type VolcengineASRClient struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text     string `json:"text"`
			Definite bool   `json:"definite"`
		} `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

func NewVolcengineASRClient(cfg config.SpeechConfig) *VolcengineASRClient {
	return &VolcengineASRClient{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// Transcribe recognises mono PCM16LE audio sampled at sampleRate.
func (c *VolcengineASRClient) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", errors.New("asr audio is empty")
	}
	appID, token, err := resolveCredentials(c.cfg)
	if err != nil {
		return "", err
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", asrResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, err := dialVolcengine(ctx, c.dialer, c.cfg.ASRURL, header, "asr")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	payload, err := json.Marshal(c.buildASRRequest(connectID, sampleRate))
	if err != nil {
		return "", fmt.Errorf("marshal asr request: %w", err)
	}
	if payload, err = compressPayload(payload, GzipCompression); err != nil {
		return "", err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newFullClientRequest(payload, GzipCompression).Marshal()); err != nil {
		return "", fmt.Errorf("send asr request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Receive concurrently so an early server error stops the upload.
	type result struct {
		text string
		err  error
	}
	recv := make(chan result, 1)
	go func() {
		text, err := c.receive(ctx, conn, connectID)
		recv <- result{text, err}
	}()

	if err := c.sendAudio(ctx, conn, pcm, sampleRate); err != nil {
		// A server-side rejection usually explains the failed write.
		select {
		case r := <-recv:
			if r.err != nil {
				return "", r.err
			}
		default:
		}
		return "", fmt.Errorf("send asr audio: %w", err)
	}

	select {
	case r := <-recv:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *VolcengineASRClient) buildASRRequest(uid string, sampleRate int) *asrRequest {
	req := &asrRequest{}
	req.User.UID = uid
	req.Audio.Format = "pcm"
	req.Audio.Codec = "raw"
	req.Audio.Language = c.cfg.ASRLanguage
	req.Audio.Rate = sampleRate
	req.Audio.Bits = 16
	req.Audio.Channel = 1
	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

// sendAudio uploads pcm in 200 ms frames. With ASRPacing set, frames are
// spaced to emulate a live microphone.
func (c *VolcengineASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, pcm []byte, sampleRate int) error {
	frameSize := sampleRate * 2 * asrFrameMillis / 1000
	if frameSize <= 0 {
		frameSize = len(pcm)
	}
	// The full client request takes sequence 1.
	seq := int32(2)
	for offset := 0; offset < len(pcm); offset += frameSize {
		end := min(offset+frameSize, len(pcm))
		last := end >= len(pcm)

		frame, err := compressPayload(pcm[offset:end], GzipCompression)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, newAudioOnlyRequest(frame, seq, last, GzipCompression).Marshal()); err != nil {
			return err
		}
		seq++
		if last || c.cfg.ASRPacing <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ASRPacing):
		}
	}
	return nil
}

func (c *VolcengineASRClient) receive(ctx context.Context, conn *websocket.Conn, connectID string) (string, error) {
	stop := watchContext(ctx, conn)
	defer stop()

	var text string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read asr frame: %w", err)
		}
		msg, err := Unmarshal(data)
		if err != nil {
			return "", fmt.Errorf("decode asr frame: %w", err)
		}

		switch msg.Header.Type {
		case ErrorMessage:
			payload, _ := payloadOf(msg)
			return "", fmt.Errorf("asr error %d: %s", msg.ErrorCode, payload)

		case FullServerResponse:
			payload, err := payloadOf(msg)
			if err != nil {
				return "", fmt.Errorf("decompress asr payload: %w", err)
			}
			var resp asrServerMessage
			if err := json.Unmarshal(payload, &resp); err != nil {
				logging.Debugw("asr payload is not json", "component", "asr", "connect_id", connectID, "error", err)
				continue
			}
			if resp.Code != 0 && resp.Code != 20000000 {
				return "", fmt.Errorf("asr api error %d: %s", resp.Code, resp.Message)
			}
			if candidate := transcriptOf(resp); candidate != "" {
				text = candidate
			}
			if msg.IsLastPacket() || resp.Sequence < 0 {
				return text, nil
			}
		}
	}
}

func transcriptOf(resp asrServerMessage) string {
	if resp.Result.Text != "" {
		return resp.Result.Text
	}
	parts := make([]string, 0, len(resp.Result.Utterances))
	for _, u := range resp.Result.Utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
