package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Audio formats carried by AudioChunk.
const (
	FormatPCM = "pcm"
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// AudioChunk is one synthesized audio sub-chunk in generation order.
type AudioChunk struct {
	Data       []byte
	Format     string
	SampleRate int
	// Emotion is set when the synthesis backend reports one for this chunk.
	Emotion string
}

// AudioStream is a lazy, finite, non-restartable sequence of audio chunks.
// Next returns io.EOF once the stream is exhausted.
type AudioStream interface {
	Next(ctx context.Context) (AudioChunk, error)
	Close() error
}

var (
	errEmptyAudio     = errors.New("empty audio payload")
	errOddPCMLength   = errors.New("pcm16 payload has odd byte length")
	errUnsupportedWAV = errors.New("unsupported wav format")
)

// DecodeChunk turns a base64 client payload into int16 samples. Raw payloads
// are PCM16LE mono; a RIFF header switches to WAV decoding, which must match
// sampleRate, mono, 16-bit.
func DecodeChunk(encoded string, sampleRate int) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	if len(raw) == 0 {
		return nil, errEmptyAudio
	}
	if IsWAV(raw) {
		return DecodeWAV(raw, sampleRate)
	}
	return BytesToSamples(raw)
}

// IsWAV reports whether b starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// DecodeWAV decodes a 16-bit mono WAV file. sampleRate 0 accepts any rate.
func DecodeWAV(b []byte, sampleRate int) ([]int16, error) {
	dec := wav.NewDecoder(bytes.NewReader(b))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav container")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	if dec.BitDepth != 16 || dec.NumChans != 1 {
		return nil, fmt.Errorf("%w: %d-bit %d channel(s)", errUnsupportedWAV, dec.BitDepth, dec.NumChans)
	}
	if sampleRate > 0 && int(dec.SampleRate) != sampleRate {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", errUnsupportedWAV, dec.SampleRate, sampleRate)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, nil
}

// WAVSampleRate returns the sample rate declared by a WAV header.
func WAVSampleRate(b []byte) (int, error) {
	dec := wav.NewDecoder(bytes.NewReader(b))
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav container")
	}
	return int(dec.SampleRate), nil
}

// BytesToSamples converts PCM16LE bytes into samples.
func BytesToSamples(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, errOddPCMLength
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return samples, nil
}

// SamplesToBytes converts samples into PCM16LE bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// BuildWAV wraps mono PCM16LE bytes in a RIFF/WAVE container. A trailing odd
// byte is dropped.
func BuildWAV(pcm []byte, sampleRate int) []byte {
	const channels, bitDepth, pcmFormat = 1, 16, 1

	data := make([]int, len(pcm)/2)
	for i := range data {
		data[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	// Encoding into memory cannot fail on I/O, and the format is fixed.
	out := &memWriteSeeker{buf: make([]byte, 0, 44+len(pcm))}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, channels, pcmFormat)
	_ = enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	})
	_ = enc.Close()
	return out.buf
}

// memWriteSeeker is the io.WriteSeeker the wav encoder needs to patch its
// header sizes after the samples are written.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, errors.New("invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}

type emotionKey struct{}

// WithEmotion attaches the emotion a reply should be voiced with.
func WithEmotion(ctx context.Context, emotion string) context.Context {
	if emotion == "" {
		return ctx
	}
	return context.WithValue(ctx, emotionKey{}, emotion)
}

// EmotionFrom returns the emotion set by WithEmotion, or "".
func EmotionFrom(ctx context.Context) string {
	v, _ := ctx.Value(emotionKey{}).(string)
	return v
}
