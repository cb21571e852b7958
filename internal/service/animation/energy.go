package animation

import (
	"context"
	"math"

	"github.com/zhouzirui/indiana-oracle/backend/internal/model/avatar"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
)

const (
	windowMillis     = 20
	silenceRMS       = 0.02
	sibilantZCR      = 0.35
	roundedZCR       = 0.08
	openMouthRMS     = 0.25
	defaultPCMSample = 24000
)

// EnergyAnimator derives mouth movement from signal energy. It needs no
// remote service and never fails on PCM or WAV input.
type EnergyAnimator struct{}

func NewEnergyAnimator() *EnergyAnimator { return &EnergyAnimator{} }

func (a *EnergyAnimator) BlendShapes(ctx context.Context, chunk speech.AudioChunk, _ persona.AvatarHandle) (avatar.Frame, error) {
	if err := ctx.Err(); err != nil {
		return avatar.Frame{}, err
	}
	samples, rate, err := chunkSamples(chunk)
	if err != nil {
		return avatar.Frame{}, err
	}

	window := rate * windowMillis / 1000
	if window <= 0 {
		window = len(samples)
	}

	frame := avatar.Frame{BlendShapes: map[string]float64{}, Visemes: []avatar.Viseme{}}
	var totalRMS, totalZCR float64
	windows := 0
	for start := 0; start < len(samples); start += window {
		end := min(start+window, len(samples))
		rms, zcr := analyse(samples[start:end])
		totalRMS += rms
		totalZCR += zcr
		windows++
		frame.Visemes = append(frame.Visemes, avatar.Viseme{
			ID:       visemeFor(rms, zcr),
			OffsetMs: start * 1000 / rate,
			Weight:   round3(math.Min(1, rms/openMouthRMS)),
		})
	}
	if windows == 0 {
		frame.BlendShapes["jawOpen"] = 0
		frame.BlendShapes["mouthClose"] = 1
		frame.BlendShapes["mouthFunnel"] = 0
		return frame, nil
	}

	meanRMS := totalRMS / float64(windows)
	meanZCR := totalZCR / float64(windows)
	jaw := math.Min(1, meanRMS/openMouthRMS)
	funnel := 0.0
	if meanZCR < roundedZCR {
		funnel = jaw * 0.6
	}
	frame.BlendShapes["jawOpen"] = round3(jaw)
	frame.BlendShapes["mouthClose"] = round3(1 - jaw)
	frame.BlendShapes["mouthFunnel"] = round3(funnel)
	return frame, nil
}

func chunkSamples(chunk speech.AudioChunk) ([]int16, int, error) {
	rate := chunk.SampleRate
	switch chunk.Format {
	case speech.FormatWAV:
		declared, err := speech.WAVSampleRate(chunk.Data)
		if err != nil {
			return nil, 0, err
		}
		samples, err := speech.DecodeWAV(chunk.Data, declared)
		return samples, declared, err
	case speech.FormatPCM, "":
		if rate <= 0 {
			rate = defaultPCMSample
		}
		samples, err := speech.BytesToSamples(chunk.Data[:len(chunk.Data)/2*2])
		return samples, rate, err
	default:
		return nil, 0, errUnsupportedAudio
	}
}

// analyse returns the normalised RMS and zero-crossing rate of a window.
func analyse(window []int16) (rms, zcr float64) {
	if len(window) == 0 {
		return 0, 0
	}
	var sum float64
	crossings := 0
	for i, s := range window {
		v := float64(s) / 32768
		sum += v * v
		if i > 0 && (window[i-1] >= 0) != (s >= 0) {
			crossings++
		}
	}
	rms = math.Sqrt(sum / float64(len(window)))
	if len(window) > 1 {
		zcr = float64(crossings) / float64(len(window)-1)
	}
	return rms, zcr
}

func visemeFor(rms, zcr float64) string {
	switch {
	case rms < silenceRMS:
		return "sil"
	case zcr > sibilantZCR:
		return "SS"
	case zcr < roundedZCR:
		return "O"
	case rms >= openMouthRMS/2:
		return "aa"
	default:
		return "E"
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// StaticAvatars hands out ready avatar handles without a remote service.
type StaticAvatars struct{}

func (StaticAvatars) LoadAvatar(ctx context.Context, p persona.Persona) (persona.AvatarHandle, error) {
	if err := ctx.Err(); err != nil {
		return persona.AvatarHandle{}, err
	}
	return persona.AvatarHandle{PersonaID: p.ID, AvatarID: avatarID(p), Ready: true}, nil
}
