package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary framing used by the Volcengine openspeech WebSocket APIs.
//
//	byte 0: version(4) | header size in 4-byte words(4)
//	byte 1: message type(4) | flags(4)
//	byte 2: serialization(4) | compression(4)
//	byte 3: reserved
//
// followed by an optional sequence, optional event metadata, an error code
// for error frames, then a big-endian payload size and the payload.
const protocolVersion = 0b0001

type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
	EventTypeTTSSentenceStart   EventType = 350
	EventTypeTTSSentenceEnd     EventType = 351
	EventTypeTTSResponse        EventType = 352
)

type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// Header is the fixed 4-byte frame header.
type Header struct {
	Version       uint8
	Size          uint8
	Type          MessageType
	Flags         MessageFlags
	Serialization SerializationMethod
	Compression   CompressionMethod
}

// Message is one decoded frame.
type Message struct {
	Header    Header
	Sequence  int32
	Event     EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func newHeader(t MessageType, flags MessageFlags, ser SerializationMethod, comp CompressionMethod) Header {
	return Header{Version: protocolVersion, Size: 1, Type: t, Flags: flags, Serialization: ser, Compression: comp}
}

func (h Header) bytes() []byte {
	return []byte{
		h.Version<<4 | h.Size,
		uint8(h.Type)<<4 | uint8(h.Flags),
		uint8(h.Serialization)<<4 | uint8(h.Compression),
		0,
	}
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < 4 {
		return Header{}, fmt.Errorf("header too short: %d bytes", len(b))
	}
	h := Header{
		Version:       b[0] >> 4,
		Size:          b[0] & 0x0F,
		Type:          MessageType(b[1] >> 4),
		Flags:         MessageFlags(b[1] & 0x0F),
		Serialization: SerializationMethod(b[2] >> 4),
		Compression:   CompressionMethod(b[2] & 0x0F),
	}
	if h.Version != protocolVersion {
		return Header{}, fmt.Errorf("unsupported protocol version %d", h.Version)
	}
	return h, nil
}

func (m *Message) hasSequence() bool {
	f := m.Header.Flags & sequenceMask
	return f == PositiveSequenceNumber || f == NegativeSequenceNumber
}

func (m *Message) hasEvent() bool {
	return m.Header.Flags&WithEvent == WithEvent
}

// IsLastPacket reports whether the frame closes its stream.
func (m *Message) IsLastPacket() bool {
	f := m.Header.Flags & sequenceMask
	return f == LastPacketNoSequence || f == NegativeSequenceNumber
}

func (m *Message) IsError() bool {
	return m.Header.Type == ErrorMessage
}

// Marshal encodes m into a binary frame.
func (m *Message) Marshal() []byte {
	var buf bytes.Buffer
	buf.Write(m.Header.bytes())

	if m.hasSequence() {
		putUint32(&buf, uint32(m.Sequence))
	}
	if m.hasEvent() {
		putUint32(&buf, uint32(m.Event))
		if !eventSkipsSessionID(m.Event) {
			putSized(&buf, []byte(m.SessionID))
		}
		if eventHasConnectID(m.Event) {
			putSized(&buf, []byte(m.ConnectID))
		}
	}
	if m.Header.Type == ErrorMessage {
		putUint32(&buf, m.ErrorCode)
	}
	putSized(&buf, m.Payload)
	return buf.Bytes()
}

// Unmarshal decodes one frame from data.
func Unmarshal(data []byte) (*Message, error) {
	return readMessage(bytes.NewReader(data))
}

func readMessage(r io.Reader) (*Message, error) {
	raw := make([]byte, 4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	if extra := int(h.Size)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	m := &Message{Header: h}
	if m.hasSequence() {
		v, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		m.Sequence = int32(v)
	}
	if m.hasEvent() {
		v, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		m.Event = EventType(int32(v))
		if !eventSkipsSessionID(m.Event) {
			b, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
			m.SessionID = string(b)
		}
		if eventHasConnectID(m.Event) {
			b, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
			m.ConnectID = string(b)
		}
	}
	if h.Type == ErrorMessage {
		if m.ErrorCode, err = readUint32(r); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}
	if m.Payload, err = readSized(r); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return m, nil
}

// newFullClientRequest builds the JSON request frame that opens a session.
func newFullClientRequest(payload []byte, comp CompressionMethod) *Message {
	return &Message{
		Header:  newHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, comp),
		Payload: payload,
	}
}

// newAudioOnlyRequest builds an audio frame. The last frame carries the
// negated sequence number.
func newAudioOnlyRequest(audio []byte, seq int32, last bool, comp CompressionMethod) *Message {
	flags := PositiveSequenceNumber
	switch {
	case last && seq != 0:
		flags = NegativeSequenceNumber
		seq = -seq
	case last:
		flags = LastPacketNoSequence
	case seq <= 0:
		flags = NoSequenceNumber
	}
	return &Message{
		Header:   newHeader(AudioOnlyRequest, flags, NoSerialization, comp),
		Sequence: seq,
		Payload:  audio,
	}
}

func eventSkipsSessionID(e EventType) bool {
	switch e {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

func eventHasConnectID(e EventType) bool {
	switch e {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putSized(buf *bytes.Buffer, b []byte) {
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("expected %d bytes: %w", n, err)
	}
	return b, nil
}
