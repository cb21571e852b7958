package session_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/indiana-oracle/backend/internal/model/conversation"
	"github.com/zhouzirui/indiana-oracle/backend/internal/service/session"
)

func newPipeline(resp *fakeResponder, synth *fakeSynth, anim *fakeAnimator, timeouts session.Timeouts) *session.Pipeline {
	return session.NewPipeline(session.PipelineDeps{
		Transcriber: &fakeTranscriber{},
		Responder:   resp,
		Synthesizer: synth,
		Animator:    anim,
	}, timeouts, nil)
}

func TestPipelineTextInputExample(t *testing.T) {
	reg := newRegistry()
	s, em := newSession(reg)
	resp := &fakeResponder{reply: "Indiana is the Crossroads of America."}
	synth := newFakeSynth("aaaa", "bbbbbb", "cc")
	p := newPipeline(resp, synth, &fakeAnimator{failAt: -1}, session.Timeouts{})

	if err := p.Run(s, "Tell me about Indiana"); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	history := s.Ledger().Snapshot()
	if len(history) != 2 ||
		history[0] != (conversation.Turn{Role: conversation.RoleUser, Content: "Tell me about Indiana", Ordinal: 0}) ||
		history[1] != (conversation.Turn{Role: conversation.RoleAssistant, Content: resp.reply, Ordinal: 1}) {
		t.Fatalf("unexpected ledger: %+v", history)
	}
	if len(resp.history) != 0 {
		t.Fatalf("responder should see the prior (empty) history, got %+v", resp.history)
	}

	events := em.Events()
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %v", em.Types())
	}
	start, ok := events[0].(session.ResponseStartEvent)
	if !ok || start.Text != resp.reply {
		t.Fatalf("expected response_start with reply, got %+v", events[0])
	}
	var audio []byte
	for i, ev := range events[1:4] {
		chunk, ok := ev.(session.ResponseChunkEvent)
		if !ok {
			t.Fatalf("event %d is %s", i+1, ev.EventType())
		}
		if chunk.SequenceIndex != i {
			t.Fatalf("chunk %d has sequence index %d", i, chunk.SequenceIndex)
		}
		if chunk.Emotion == "" || chunk.BlendShapes["jawOpen"] == 0 || len(chunk.Visemes) != 1 {
			t.Fatalf("chunk %d missing animation data: %+v", i, chunk)
		}
		raw, err := base64.StdEncoding.DecodeString(chunk.Audio)
		if err != nil {
			t.Fatalf("chunk audio not base64: %v", err)
		}
		audio = append(audio, raw...)
	}
	if !bytes.Equal(audio, []byte("aaaabbbbbbcc")) {
		t.Fatalf("chunk audio does not concatenate to synth output: %q", audio)
	}
	if events[4].EventType() != session.TypeResponseEnd {
		t.Fatalf("last event %s", events[4].EventType())
	}
	if !synth.last.closed.Load() {
		t.Fatalf("synthesis stream not closed")
	}
}

func TestPipelinePassesPriorHistory(t *testing.T) {
	reg := newRegistry()
	s, _ := newSession(reg)
	resp := &fakeResponder{reply: "first"}
	p := newPipeline(resp, newFakeSynth("x"), &fakeAnimator{failAt: -1}, session.Timeouts{})

	if err := p.Run(s, "one"); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	resp.reply = "second"
	if err := p.Run(s, "two"); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if len(resp.history) != 2 || resp.history[0].Content != "one" || resp.history[1].Content != "first" {
		t.Fatalf("unexpected history passed to responder: %+v", resp.history)
	}
	if s.Ledger().Len() != 4 {
		t.Fatalf("expected 4 turns, got %d", s.Ledger().Len())
	}
}

func TestPipelineAnimationFailureMidStream(t *testing.T) {
	reg := newRegistry()
	s, em := newSession(reg)
	p := newPipeline(&fakeResponder{reply: "reply"}, newFakeSynth("0", "1", "2", "3", "4"), &fakeAnimator{failAt: 2}, session.Timeouts{})

	err := p.Run(s, "hi")
	var collabErr *session.CollaboratorError
	if !errors.As(err, &collabErr) || collabErr.Stage != session.StageAnimation {
		t.Fatalf("expected animation CollaboratorError, got %v", err)
	}

	types := em.Types()
	want := []string{
		session.TypeResponseStart,
		session.TypeResponseChunk,
		session.TypeResponseChunk,
		session.TypeError,
		session.TypeResponseEnd,
	}
	if len(types) != len(want) {
		t.Fatalf("unexpected events %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, types[i], want[i])
		}
	}
	errEv := em.Events()[3].(session.ErrorEvent)
	if errEv.Code != session.CodeCollaboratorFailure {
		t.Fatalf("unexpected error code %s", errEv.Code)
	}
	if s.Ledger().Len() != 2 {
		t.Fatalf("assistant turn should be kept once generated")
	}
}

func TestPipelineGenerationFailureKeepsUserTurnOnly(t *testing.T) {
	reg := newRegistry()
	s, em := newSession(reg)
	synth := newFakeSynth("x")
	p := newPipeline(&fakeResponder{err: errors.New("llm down")}, synth, &fakeAnimator{failAt: -1}, session.Timeouts{})

	if err := p.Run(s, "hello?"); err == nil {
		t.Fatalf("expected error")
	}
	history := s.Ledger().Snapshot()
	if len(history) != 1 || history[0].Role != conversation.RoleUser {
		t.Fatalf("expected only the user turn, got %+v", history)
	}
	types := em.Types()
	if len(types) != 2 || types[0] != session.TypeError || types[1] != session.TypeResponseEnd {
		t.Fatalf("unexpected events %v", types)
	}
	if synth.last != nil {
		t.Fatalf("synthesis must not start after generation failure")
	}
}

func TestPipelineEmptyReplyIsFailure(t *testing.T) {
	reg := newRegistry()
	s, em := newSession(reg)
	p := newPipeline(&fakeResponder{reply: "   "}, newFakeSynth("x"), &fakeAnimator{failAt: -1}, session.Timeouts{})

	if err := p.Run(s, "hello?"); err == nil {
		t.Fatalf("expected error for empty reply")
	}
	if types := em.Types(); len(types) != 2 || types[0] != session.TypeError {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestPipelineGenerationTimeout(t *testing.T) {
	reg := newRegistry()
	s, em := newSession(reg)
	p := newPipeline(&fakeResponder{reply: "late", delay: time.Second}, newFakeSynth("x"), &fakeAnimator{failAt: -1},
		session.Timeouts{Generate: 20 * time.Millisecond})

	err := p.Run(s, "hello?")
	if session.ErrorCode(err) != session.CodeCollaboratorTimeout {
		t.Fatalf("expected timeout code, got %v", err)
	}
	errEv := em.Events()[0].(session.ErrorEvent)
	if errEv.Code != session.CodeCollaboratorTimeout {
		t.Fatalf("unexpected error event %+v", errEv)
	}
}

func TestPipelineSynthesisChunkTimeout(t *testing.T) {
	reg := newRegistry()
	s, em := newSession(reg)
	synth := newFakeSynth("0", "1", "2")
	synth.blockAt = 1
	p := newPipeline(&fakeResponder{reply: "reply"}, synth, &fakeAnimator{failAt: -1},
		session.Timeouts{SynthChunk: 20 * time.Millisecond})

	err := p.Run(s, "hi")
	var collabErr *session.CollaboratorError
	if !errors.As(err, &collabErr) || collabErr.Stage != session.StageSynthesis || !collabErr.Timeout {
		t.Fatalf("expected synthesis timeout, got %v", err)
	}
	types := em.Types()
	want := []string{session.TypeResponseStart, session.TypeResponseChunk, session.TypeError, session.TypeResponseEnd}
	if len(types) != len(want) {
		t.Fatalf("unexpected events %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, types[i], want[i])
		}
	}
}

func TestPipelineSynthesisOpenFailure(t *testing.T) {
	reg := newRegistry()
	s, em := newSession(reg)
	synth := newFakeSynth()
	synth.openErr = errors.New("tts unavailable")
	p := newPipeline(&fakeResponder{reply: "reply"}, synth, &fakeAnimator{failAt: -1}, session.Timeouts{})

	if err := p.Run(s, "hi"); err == nil {
		t.Fatalf("expected error")
	}
	types := em.Types()
	if len(types) != 3 || types[0] != session.TypeResponseStart || types[1] != session.TypeError || types[2] != session.TypeResponseEnd {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestPipelineTeardownMidStreamStopsWrites(t *testing.T) {
	reg := newRegistry()
	s, em := newSession(reg)
	synth := newFakeSynth("0", "1", "2", "3")
	p := newPipeline(&fakeResponder{reply: "reply"}, synth, &fakeAnimator{failAt: -1}, session.Timeouts{})

	em.onSend = func(ev session.Event) {
		if chunk, ok := ev.(session.ResponseChunkEvent); ok && chunk.SequenceIndex == 1 {
			reg.Destroy(s.ID)
		}
	}

	err := p.Run(s, "hi")
	if !errors.Is(err, session.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if em.LateSends() != 0 {
		t.Fatalf("pipeline wrote %d events after disconnect", em.LateSends())
	}
	types := em.Types()
	if len(types) != 3 || types[2] != session.TypeResponseChunk {
		t.Fatalf("unexpected events before disconnect %v", types)
	}
}

func TestPipelineTranscription(t *testing.T) {
	reg := newRegistry()
	s, _ := newSession(reg)
	p := session.NewPipeline(session.PipelineDeps{
		Transcriber: &fakeTranscriber{partial: " tell me ", final: " Tell me about Indiana "},
	}, session.Timeouts{}, nil)

	if got := p.TranscribePartial(s, []int16{1, 2}); got != "tell me" {
		t.Fatalf("partial = %q", got)
	}
	got, err := p.TranscribeFinal(s, []int16{1, 2})
	if err != nil || got != "Tell me about Indiana" {
		t.Fatalf("final = %q, %v", got, err)
	}

	failing := session.NewPipeline(session.PipelineDeps{
		Transcriber: &fakeTranscriber{err: errors.New("asr down")},
	}, session.Timeouts{}, nil)
	if got := failing.TranscribePartial(s, nil); got != "" {
		t.Fatalf("failed partial should be empty, got %q", got)
	}
	if _, err := failing.TranscribeFinal(s, nil); session.ErrorCode(err) != session.CodeCollaboratorFailure {
		t.Fatalf("unexpected final error %v", err)
	}
}
