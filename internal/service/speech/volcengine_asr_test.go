package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestASRTranscribeSendsFramesAndReturnsFinalText(t *testing.T) {
	received := make(chan []byte, 1)
	vendor := newFakeVendor(t, func(conn *websocket.Conn, header http.Header) {
		if header.Get("X-Api-Resource-Id") != asrResourceID {
			t.Errorf("unexpected resource %q", header.Get("X-Api-Resource-Id"))
		}
		first := readFrame(t, conn)
		if first == nil {
			return
		}
		payload, err := payloadOf(first)
		if err != nil {
			t.Errorf("decompress request: %v", err)
			return
		}
		var req asrRequest
		if err := json.Unmarshal(payload, &req); err != nil || req.Audio.Rate != 16000 || req.Audio.Language != "en-US" {
			t.Errorf("unexpected asr request %s", payload)
			return
		}

		var audio bytes.Buffer
		frames := 0
		for {
			msg := readFrame(t, conn)
			if msg == nil {
				return
			}
			chunk, err := payloadOf(msg)
			if err != nil {
				t.Errorf("decompress audio: %v", err)
				return
			}
			audio.Write(chunk)
			frames++
			if msg.IsLastPacket() {
				break
			}
		}
		received <- audio.Bytes()

		writeFrame(conn, &Message{
			Header:   newHeader(FullServerResponse, PositiveSequenceNumber, JSONSerialization, NoCompression),
			Sequence: 1,
			Payload:  []byte(`{"result":{"text":"who"}}`),
		})
		writeFrame(conn, &Message{
			Header:   newHeader(FullServerResponse, NegativeSequenceNumber, JSONSerialization, NoCompression),
			Sequence: -2,
			Payload:  []byte(`{"result":{"utterances":[{"text":"who are"},{"text":"you"}]}}`),
		})
	})

	client := NewVolcengineASRClient(vendor.config())
	// 0.5 s at 16 kHz spans three 200 ms frames.
	pcm := make([]byte, 16000)
	text, err := client.Transcribe(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("Transcribe err: %v", err)
	}
	if text != "who are you" {
		t.Fatalf("unexpected transcript %q", text)
	}
	if got := <-received; len(got) != len(pcm) {
		t.Fatalf("vendor received %d bytes, want %d", len(got), len(pcm))
	}
}

func TestASRTranscribeReportsAPIError(t *testing.T) {
	vendor := newFakeVendor(t, func(conn *websocket.Conn, _ http.Header) {
		if readFrame(t, conn) == nil {
			return
		}
		writeFrame(conn, &Message{
			Header:   newHeader(FullServerResponse, NegativeSequenceNumber, JSONSerialization, NoCompression),
			Sequence: -1,
			Payload:  []byte(`{"code":45000001,"message":"invalid audio"}`),
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client := NewVolcengineASRClient(vendor.config())
	_, err := client.Transcribe(context.Background(), make([]byte, 640), 16000)
	if err == nil || !strings.Contains(err.Error(), "invalid audio") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestASRRejectsEmptyAudio(t *testing.T) {
	client := NewVolcengineASRClient(newFakeVendor(t, func(*websocket.Conn, http.Header) {}).config())
	if _, err := client.Transcribe(context.Background(), nil, 16000); err == nil {
		t.Fatalf("expected error for empty audio")
	}
}
