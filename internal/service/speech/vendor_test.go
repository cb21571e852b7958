package speech

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/indiana-oracle/backend/internal/config"
)

// fakeVendor is an httptest WebSocket server speaking the binary protocol.
// handle receives the upgraded connection and the handshake headers.
type fakeVendor struct {
	srv *httptest.Server

	mu        sync.Mutex
	resources []string
}

func newFakeVendor(t *testing.T, handle func(conn *websocket.Conn, header http.Header)) *fakeVendor {
	t.Helper()
	v := &fakeVendor{}
	upgrader := websocket.Upgrader{}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		v.resources = append(v.resources, r.Header.Get("X-Api-Resource-Id"))
		v.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r.Header)
	}))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *fakeVendor) url() string {
	return "ws" + strings.TrimPrefix(v.srv.URL, "http")
}

func (v *fakeVendor) seenResources() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.resources...)
}

func (v *fakeVendor) config() config.SpeechConfig {
	return config.SpeechConfig{
		Provider:    config.SpeechProviderVolcengine,
		Enabled:     true,
		AppID:       "app",
		AccessToken: "token",
		TTSURL:      v.url(),
		ASRURL:      v.url(),
		ASRLanguage: "en-US",
		TTSVoice:    "en_male_glen_emo_v2_mars_bigtts",
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("vendor read: %v", err)
		return nil
	}
	msg, err := Unmarshal(data)
	if err != nil {
		t.Errorf("vendor decode: %v", err)
		return nil
	}
	return msg
}

func writeFrame(conn *websocket.Conn, msg *Message) {
	_ = conn.WriteMessage(websocket.BinaryMessage, msg.Marshal())
}

func audioFrame(seq int32, data []byte, last bool) *Message {
	flags := PositiveSequenceNumber
	if last {
		flags = NegativeSequenceNumber
		seq = -seq
	}
	return &Message{
		Header:   newHeader(AudioOnlyServerResponse, flags, NoSerialization, NoCompression),
		Sequence: seq,
		Payload:  data,
	}
}

func sessionFinished() *Message {
	return &Message{
		Header:    newHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression),
		Event:     EventTypeSessionFinished,
		SessionID: "vendor-session",
		Payload:   []byte(`{"code":20000000}`),
	}
}

func errorFrame(text string) *Message {
	return &Message{
		Header:    newHeader(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression),
		ErrorCode: 45000000,
		Payload:   []byte(text),
	}
}
