package animation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/avatar"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
)

var errUnsupportedAudio = errors.New("animation needs pcm or wav audio")

// Client talks to a remote audio-to-face service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpClient}
}

type frameResponse struct {
	BlendShapes map[string]float64 `json:"blend_shapes"`
	Visemes     []avatar.Viseme    `json:"visemes"`
}

type loadResponse struct {
	Token string `json:"token"`
	Ready *bool  `json:"ready"`
}

// BlendShapes uploads one sub-chunk as WAV and returns the animation frame.
func (c *Client) BlendShapes(ctx context.Context, chunk speech.AudioChunk, handle persona.AvatarHandle) (avatar.Frame, error) {
	var body []byte
	switch chunk.Format {
	case speech.FormatWAV:
		body = chunk.Data
	case speech.FormatPCM, "":
		body = speech.BuildWAV(chunk.Data, chunk.SampleRate)
	default:
		return avatar.Frame{}, fmt.Errorf("%w: %s", errUnsupportedAudio, chunk.Format)
	}

	endpoint := c.baseURL + "/audio_to_face"
	if handle.Token != "" {
		endpoint += "?avatar=" + url.QueryEscape(handle.Token)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return avatar.Frame{}, err
	}
	req.Header.Set("Content-Type", "audio/wav")

	raw, err := c.do(req)
	if err != nil {
		return avatar.Frame{}, err
	}
	return decodeFrame(raw)
}

// decodeFrame accepts either {blend_shapes, visemes} or a flat map of
// blend shape weights.
func decodeFrame(raw []byte) (avatar.Frame, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return avatar.Frame{}, fmt.Errorf("decode animation frame: %w", err)
	}
	if _, ok := probe["blend_shapes"]; ok {
		var resp frameResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return avatar.Frame{}, fmt.Errorf("decode animation frame: %w", err)
		}
		return avatar.Frame{BlendShapes: resp.BlendShapes, Visemes: resp.Visemes}, nil
	}
	flat := make(map[string]float64, len(probe))
	if err := json.Unmarshal(raw, &flat); err != nil {
		return avatar.Frame{}, fmt.Errorf("decode blend shapes: %w", err)
	}
	return avatar.Frame{BlendShapes: flat}, nil
}

// LoadAvatar asks the service to prepare the persona's avatar.
func (c *Client) LoadAvatar(ctx context.Context, p persona.Persona) (persona.AvatarHandle, error) {
	id := avatarID(p)
	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/avatars/"+url.PathEscape(id)+"/load", nil)
	if err != nil {
		return persona.AvatarHandle{}, err
	}
	raw, err := c.do(req)
	if err != nil {
		return persona.AvatarHandle{}, err
	}
	var resp loadResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return persona.AvatarHandle{}, fmt.Errorf("decode avatar load: %w", err)
		}
	}
	ready := resp.Ready == nil || *resp.Ready
	logging.Debugw("avatar loaded", "component", "animation", "persona", p.ID, "avatar", id, "ready", ready)
	return persona.AvatarHandle{PersonaID: p.ID, AvatarID: id, Token: resp.Token, Ready: ready}, nil
}

// ReleaseAvatar frees a handle returned by LoadAvatar. Handles without a
// token hold nothing remotely.
func (c *Client) ReleaseAvatar(ctx context.Context, handle persona.AvatarHandle) error {
	if handle.Token == "" {
		return nil
	}
	req, err := c.newRequest(ctx, http.MethodDelete, c.baseURL+"/avatars/"+url.PathEscape(handle.Token), nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// Health checks the service status endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build animation request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("animation %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read animation response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("animation %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func avatarID(p persona.Persona) string {
	if p.AvatarID != "" {
		return p.AvatarID
	}
	return p.ID
}
