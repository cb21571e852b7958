package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	speechsvc "github.com/zhouzirui/indiana-oracle/backend/internal/service/speech"
)

type fakeSpeechService struct {
	uploaded []byte
	err      error
}

func (f *fakeSpeechService) TranscribeWAV(_ context.Context, wav []byte) (string, error) {
	f.uploaded = wav
	if f.err != nil {
		return "", f.err
	}
	return "who are you", nil
}

func (f *fakeSpeechService) Health() map[string]any {
	return map[string]any{"status": "ok", "provider": "fake"}
}

func newRouter(svc SpeechService) chi.Router {
	r := chi.NewRouter()
	New(svc, time.Second).RegisterRoutes(r)
	return r
}

func TestTranscribeMultipart(t *testing.T) {
	fakeSvc := &fakeSpeechService{}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", "sample.wav")
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("RIFFdata")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	newRouter(fakeSvc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rr.Code, rr.Body.String())
	}
	if string(fakeSvc.uploaded) != "RIFFdata" {
		t.Fatalf("upload not forwarded: %q", fakeSvc.uploaded)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp["text"] != "who are you" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestTranscribeRawBody(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", bytes.NewReader([]byte("RIFFraw")))
	req.Header.Set("Content-Type", "audio/wav")
	rr := httptest.NewRecorder()
	newRouter(fakeSvc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || string(fakeSvc.uploaded) != "RIFFraw" {
		t.Fatalf("status %d uploaded %q", rr.Code, fakeSvc.uploaded)
	}
}

func TestTranscribeErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		body   []byte
		status int
	}{
		{name: "missing file", body: nil, status: http.StatusBadRequest},
		{name: "disabled", err: speechsvc.ErrDisabled, body: []byte("RIFF"), status: http.StatusServiceUnavailable},
		{name: "backend failure", err: errors.New("boom"), body: []byte("RIFF"), status: http.StatusBadGateway},
	}
	for _, tc := range cases {
		fakeSvc := &fakeSpeechService{err: tc.err}
		req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", bytes.NewReader(tc.body))
		if tc.body != nil {
			req.Header.Set("Content-Type", "audio/wav")
		}
		rr := httptest.NewRecorder()
		newRouter(fakeSvc).ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rr.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter(&fakeSpeechService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/speech/health", nil))

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if resp["service"] != "speech" || resp["provider"] != "fake" {
		t.Fatalf("unexpected health %v", resp)
	}
}
