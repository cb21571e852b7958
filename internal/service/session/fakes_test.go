package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/indiana-oracle/backend/internal/model/avatar"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/conversation"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
	"github.com/zhouzirui/indiana-oracle/backend/internal/service/session"
)

// recordingEmitter captures every event and counts attempts after Close.
type recordingEmitter struct {
	mu          sync.Mutex
	events      []session.Event
	closed      bool
	lateSends   int
	onSend      func(session.Event)
	closeCalled int
}

func (e *recordingEmitter) Send(_ context.Context, ev session.Event) error {
	e.mu.Lock()
	if e.closed {
		e.lateSends++
		e.mu.Unlock()
		return session.ErrConnectionLost
	}
	e.events = append(e.events, ev)
	hook := e.onSend
	e.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return nil
}

func (e *recordingEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.closeCalled++
	return nil
}

func (e *recordingEmitter) Events() []session.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]session.Event(nil), e.events...)
}

func (e *recordingEmitter) Types() []string {
	var types []string
	for _, ev := range e.Events() {
		types = append(types, ev.EventType())
	}
	return types
}

func (e *recordingEmitter) LateSends() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lateSends
}

type fakeResponder struct {
	reply   string
	err     error
	delay   time.Duration
	calls   int
	history []conversation.Turn
}

func (f *fakeResponder) Respond(ctx context.Context, _ persona.Persona, _ string, history []conversation.Turn) (string, error) {
	f.calls++
	f.history = history
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

// sliceStream yields fixed chunks, optionally blocking before chunk blockAt.
type sliceStream struct {
	chunks  [][]byte
	pos     int
	blockAt int
	closed  atomic.Bool
}

func (s *sliceStream) Next(ctx context.Context) (speech.AudioChunk, error) {
	if s.blockAt >= 0 && s.pos == s.blockAt {
		<-ctx.Done()
		return speech.AudioChunk{}, ctx.Err()
	}
	if s.pos >= len(s.chunks) {
		return speech.AudioChunk{}, io.EOF
	}
	data := s.chunks[s.pos]
	s.pos++
	return speech.AudioChunk{Data: data, Format: speech.FormatPCM, SampleRate: 24000}, nil
}

func (s *sliceStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeSynth struct {
	chunks  [][]byte
	blockAt int
	openErr error
	last    *sliceStream
	voice   persona.VoiceHandle
}

func newFakeSynth(chunks ...string) *fakeSynth {
	f := &fakeSynth{blockAt: -1}
	for _, c := range chunks {
		f.chunks = append(f.chunks, []byte(c))
	}
	return f
}

func (f *fakeSynth) SynthesizeStream(_ context.Context, _ string, voice persona.VoiceHandle) (speech.AudioStream, error) {
	f.voice = voice
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.last = &sliceStream{chunks: f.chunks, blockAt: f.blockAt}
	return f.last, nil
}

type fakeAnimator struct {
	failAt int
	calls  int
}

func (f *fakeAnimator) BlendShapes(_ context.Context, chunk speech.AudioChunk, _ persona.AvatarHandle) (avatar.Frame, error) {
	defer func() { f.calls++ }()
	if f.failAt >= 0 && f.calls == f.failAt {
		return avatar.Frame{}, errors.New("animation backend down")
	}
	return avatar.Frame{
		BlendShapes: map[string]float64{"jawOpen": float64(len(chunk.Data)) / 10},
		Visemes:     []avatar.Viseme{{ID: "aa", OffsetMs: 0, Weight: 1}},
	}, nil
}

type fakeTranscriber struct {
	partial string
	final   string
	err     error
}

func (f *fakeTranscriber) TranscribePartial(context.Context, []int16) (string, error) {
	return f.partial, f.err
}

func (f *fakeTranscriber) TranscribeFinal(context.Context, []int16) (string, error) {
	return f.final, f.err
}

type fakeVoices struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (f *fakeVoices) LoadVoice(ctx context.Context, p persona.Persona) (persona.VoiceHandle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return persona.VoiceHandle{}, ctx.Err()
		}
	}
	if f.err != nil {
		return persona.VoiceHandle{}, f.err
	}
	return persona.VoiceHandle{PersonaID: p.ID, Speaker: "speaker-" + p.ID}, nil
}

func (f *fakeVoices) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAvatars hands out "tok-<persona>" tokens, or one per load when unique.
type fakeAvatars struct {
	mu       sync.Mutex
	calls    int
	released []persona.AvatarHandle
	err      error
	unique   bool
}

func (f *fakeAvatars) LoadAvatar(_ context.Context, p persona.Persona) (persona.AvatarHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return persona.AvatarHandle{}, f.err
	}
	token := "tok-" + p.ID
	if f.unique {
		token = fmt.Sprintf("tok-%s-%d", p.ID, f.calls)
	}
	return persona.AvatarHandle{PersonaID: p.ID, AvatarID: p.AvatarID, Token: token, Ready: true}, nil
}

func (f *fakeAvatars) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAvatars) ReleaseAvatar(_ context.Context, h persona.AvatarHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, h)
	return nil
}

func (f *fakeAvatars) Released() []persona.AvatarHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]persona.AvatarHandle(nil), f.released...)
}

func newRegistry() *session.Registry {
	return session.NewRegistry(session.RegistryConfig{
		DefaultPersona: persona.Seed()[0],
		SampleRate:     16000,
		ReadyWindow:    500 * time.Millisecond,
	}, nil)
}

func newSession(reg *session.Registry) (*session.Session, *recordingEmitter) {
	em := &recordingEmitter{}
	s, err := reg.Create(context.Background(), em)
	if err != nil {
		panic(err)
	}
	return s, em
}
