package speech

import (
	"bytes"
	"testing"
)

func TestProtocolEncoding(t *testing.T) {
	original := newFullClientRequest([]byte(`{"hello":"world"}`), NoCompression)

	decoded, err := Unmarshal(original.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if decoded.Header.Type != FullClientRequest || decoded.Header.Serialization != JSONSerialization {
		t.Fatalf("unexpected header: %+v", decoded.Header)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Fatalf("payload mismatch: %q", decoded.Payload)
	}
}

func TestProtocolEventFrames(t *testing.T) {
	msg := &Message{
		Header:    newHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression),
		Event:     EventTypeSessionFinished,
		SessionID: "sess-1",
		Payload:   []byte(`{}`),
	}
	decoded, err := Unmarshal(msg.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if decoded.Event != EventTypeSessionFinished || decoded.SessionID != "sess-1" {
		t.Fatalf("event metadata lost: %+v", decoded)
	}

	conn := &Message{
		Header:    newHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression),
		Event:     EventTypeConnectionStarted,
		ConnectID: "conn-9",
	}
	decoded, err = Unmarshal(conn.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if decoded.ConnectID != "conn-9" || decoded.SessionID != "" {
		t.Fatalf("connection event decoded wrong: %+v", decoded)
	}
}

func TestProtocolErrorFrame(t *testing.T) {
	msg := &Message{
		Header:    newHeader(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression),
		ErrorCode: 45000001,
		Payload:   []byte("bad request"),
	}
	decoded, err := Unmarshal(msg.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if !decoded.IsError() || decoded.ErrorCode != 45000001 || string(decoded.Payload) != "bad request" {
		t.Fatalf("unexpected error frame: %+v", decoded)
	}
}

func TestAudioOnlyRequestSequence(t *testing.T) {
	mid := newAudioOnlyRequest([]byte{1, 2}, 3, false, NoCompression)
	if mid.IsLastPacket() || mid.Sequence != 3 {
		t.Fatalf("middle frame: %+v", mid)
	}
	last, err := Unmarshal(newAudioOnlyRequest([]byte{1, 2}, 4, true, NoCompression).Marshal())
	if err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if !last.IsLastPacket() || last.Sequence != -4 {
		t.Fatalf("last frame should carry negated sequence: %+v", last)
	}
}

func TestUnmarshalRejectsTruncatedFrame(t *testing.T) {
	data := newFullClientRequest([]byte("payload"), NoCompression).Marshal()
	if _, err := Unmarshal(data[:len(data)-2]); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
	if _, err := Unmarshal([]byte{0x21, 0, 0, 0}); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("oracle "), 64)
	compressed, err := compressPayload(data, GzipCompression)
	if err != nil {
		t.Fatalf("compress err: %v", err)
	}
	out, err := decompressPayload(compressed, GzipCompression)
	if err != nil {
		t.Fatalf("decompress err: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("round trip mismatch")
	}
}

func BenchmarkProtocolEncoding(b *testing.B) {
	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	msg := newAudioOnlyRequest(payload, 2, false, NoCompression)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Unmarshal(msg.Marshal())
	}
}
