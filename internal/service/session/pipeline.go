package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/avatar"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/conversation"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
	"github.com/zhouzirui/indiana-oracle/backend/internal/telemetry"
)

var errEmptyReply = errors.New("empty reply")

// Timeouts bounds every collaborator call made for a session.
type Timeouts struct {
	Transcribe time.Duration
	Generate   time.Duration
	// Synthesize bounds opening the synthesis stream, SynthChunk each Next.
	Synthesize time.Duration
	SynthChunk time.Duration
	Animate    time.Duration
}

// DefaultTimeouts mirrors the config defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Transcribe: 15 * time.Second,
		Generate:   30 * time.Second,
		Synthesize: 15 * time.Second,
		SynthChunk: 10 * time.Second,
		Animate:    5 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.Transcribe <= 0 {
		t.Transcribe = def.Transcribe
	}
	if t.Generate <= 0 {
		t.Generate = def.Generate
	}
	if t.Synthesize <= 0 {
		t.Synthesize = def.Synthesize
	}
	if t.SynthChunk <= 0 {
		t.SynthChunk = def.SynthChunk
	}
	if t.Animate <= 0 {
		t.Animate = def.Animate
	}
	return t
}

// PipelineDeps are the collaborators a pipeline drives. Tagger is optional.
type PipelineDeps struct {
	Transcriber Transcriber
	Responder   Responder
	Synthesizer Synthesizer
	Animator    Animator
	Tagger      EmotionTagger
}

// Pipeline turns finalized user text into an ordered response stream.
type Pipeline struct {
	deps     PipelineDeps
	timeouts Timeouts
	metrics  *telemetry.Metrics
}

func NewPipeline(deps PipelineDeps, timeouts Timeouts, metrics *telemetry.Metrics) *Pipeline {
	return &Pipeline{deps: deps, timeouts: timeouts.withDefaults(), metrics: metrics}
}

// Run performs one response run for s. Every run that gets past the user
// turn ends with response_end unless the connection is lost, in which case
// ErrConnectionLost is returned and nothing else is written.
func (p *Pipeline) Run(s *Session, text string) error {
	ctx := s.LogContext()
	current := s.Persona()
	started := time.Now()

	s.setResponding(true)
	defer s.setResponding(false)

	history := s.Ledger().Snapshot()
	s.Ledger().Append(conversation.RoleUser, text)

	chunks, err := p.run(ctx, s, current, text, history)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrConnectionLost):
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
	}
	p.metrics.RunFinished(ctx, current.ID, outcome, time.Since(started))

	if err != nil && !errors.Is(err, ErrConnectionLost) {
		logging.WarnwCtx(ctx, "response run failed",
			"component", "pipeline", "chunks", chunks, "code", ErrorCode(err), "error", err)
		if emitErr := s.Emit(NewErrorEvent(err)); emitErr != nil {
			return emitErr
		}
		if emitErr := s.Emit(NewResponseEnd()); emitErr != nil {
			return emitErr
		}
		return err
	}
	if err == nil {
		logging.InfowCtx(ctx, "response run completed",
			"component", "pipeline", "chunks", chunks, "elapsed_ms", time.Since(started).Milliseconds())
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, s *Session, current persona.Persona, text string, history []conversation.Turn) (int, error) {
	if ctx.Err() != nil {
		return 0, ErrConnectionLost
	}

	reply, err := p.generate(ctx, current, text, history)
	if err != nil {
		return 0, err
	}
	s.Ledger().Append(conversation.RoleAssistant, reply)

	emotion := p.tag(ctx, current, history, text, reply)
	if err := s.Emit(NewResponseStart(reply, emotion)); err != nil {
		return 0, err
	}

	chunks, err := p.stream(ctx, s, reply, emotion)
	if err != nil {
		return chunks, err
	}
	if err := s.Emit(NewResponseEnd()); err != nil {
		return chunks, err
	}
	return chunks, nil
}

func (p *Pipeline) generate(ctx context.Context, current persona.Persona, text string, history []conversation.Turn) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Generate)
	defer cancel()

	reply, err := p.deps.Responder.Respond(callCtx, current, text, history)
	if err != nil {
		return "", p.collaboratorErr(ctx, StageGeneration, errors.Is(callCtx.Err(), context.DeadlineExceeded), err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", p.collaboratorErr(ctx, StageGeneration, false, errEmptyReply)
	}
	return reply, nil
}

func (p *Pipeline) tag(ctx context.Context, current persona.Persona, history []conversation.Turn, text, reply string) string {
	if p.deps.Tagger == nil {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Generate)
	defer cancel()
	return p.deps.Tagger.Tag(callCtx, current, history, text, reply)
}

// stream emits one response_chunk per synthesized sub-chunk and returns how
// many were emitted.
func (p *Pipeline) stream(ctx context.Context, s *Session, reply, emotion string) (int, error) {
	binding := s.Binding()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	watch := func(d time.Duration) func() bool {
		t := time.AfterFunc(d, func() {
			timedOut.Store(true)
			cancel()
		})
		return t.Stop
	}

	stop := watch(p.timeouts.Synthesize)
	audio, err := p.deps.Synthesizer.SynthesizeStream(speech.WithEmotion(streamCtx, emotion), reply, binding.Voice)
	stop()
	if err != nil {
		return 0, p.collaboratorErr(ctx, StageSynthesis, timedOut.Load(), err)
	}
	defer audio.Close()

	for index := 0; ; index++ {
		if ctx.Err() != nil {
			return index, ErrConnectionLost
		}

		stop = watch(p.timeouts.SynthChunk)
		chunk, err := audio.Next(streamCtx)
		stop()
		if errors.Is(err, io.EOF) {
			return index, nil
		}
		if err != nil {
			return index, p.collaboratorErr(ctx, StageSynthesis, timedOut.Load(), err)
		}

		frame, err := p.animate(ctx, chunk, binding.Avatar)
		if err != nil {
			return index, err
		}

		chunkEmotion := chunk.Emotion
		if chunkEmotion == "" {
			chunkEmotion = emotion
		}
		out := StreamChunk{
			SequenceIndex: index,
			Audio:         chunk.Data,
			Format:        chunk.Format,
			SampleRate:    chunk.SampleRate,
			Frame:         frame,
			Emotion:       chunkEmotion,
		}
		if err := s.Emit(out.Event()); err != nil {
			return index, err
		}
		p.metrics.ChunkEmitted(ctx, binding.Voice.PersonaID)
		logging.DebugwCtx(ctx, "response chunk emitted",
			append([]interface{}{"component", "pipeline"}, logging.ChunkFields(index, len(chunk.Data), out.Emotion)...)...)
	}
}

func (p *Pipeline) animate(ctx context.Context, chunk speech.AudioChunk, handle persona.AvatarHandle) (avatar.Frame, error) {
	if ctx.Err() != nil {
		return avatar.Frame{}, ErrConnectionLost
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Animate)
	defer cancel()

	frame, err := p.deps.Animator.BlendShapes(callCtx, chunk, handle)
	if err != nil {
		return avatar.Frame{}, p.collaboratorErr(ctx, StageAnimation, errors.Is(callCtx.Err(), context.DeadlineExceeded), err)
	}
	return frame, nil
}

// TranscribePartial runs a bounded partial pass. Failures are logged and
// reported as "" since partial results are advisory.
func (p *Pipeline) TranscribePartial(s *Session, samples []int16) string {
	ctx := s.LogContext()
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Transcribe)
	defer cancel()

	text, err := p.deps.Transcriber.TranscribePartial(callCtx, samples)
	if err != nil {
		if ctx.Err() == nil {
			p.metrics.CollaboratorFailed(ctx, StageTranscription, errors.Is(callCtx.Err(), context.DeadlineExceeded))
			logging.WarnwCtx(ctx, "partial transcription failed", "component", "pipeline", "error", err)
		}
		return ""
	}
	return strings.TrimSpace(text)
}

// TranscribeFinal runs the bounded final pass over a drained buffer.
func (p *Pipeline) TranscribeFinal(s *Session, samples []int16) (string, error) {
	ctx := s.LogContext()
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Transcribe)
	defer cancel()

	text, err := p.deps.Transcriber.TranscribeFinal(callCtx, samples)
	if err != nil {
		return "", p.collaboratorErr(ctx, StageTranscription, errors.Is(callCtx.Err(), context.DeadlineExceeded), err)
	}
	return strings.TrimSpace(text), nil
}

// collaboratorErr classifies a failed call. A cancelled session wins over
// the call's own error.
func (p *Pipeline) collaboratorErr(ctx context.Context, stage string, timeout bool, err error) error {
	if ctx.Err() != nil {
		return ErrConnectionLost
	}
	if errors.Is(err, context.DeadlineExceeded) {
		timeout = true
	}
	p.metrics.CollaboratorFailed(ctx, stage, timeout)
	return &CollaboratorError{Stage: stage, Timeout: timeout, Err: err}
}
