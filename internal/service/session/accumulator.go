package session

import (
	"sync"
	"time"

	"github.com/zhouzirui/indiana-oracle/backend/internal/model/speech"
)

// DefaultReadyWindow is the buffered duration that makes a buffer ready for a
// transcription pass.
const DefaultReadyWindow = 500 * time.Millisecond

// AccumulatorStats is informational only.
type AccumulatorStats struct {
	Duration         time.Duration `json:"duration"`
	ChunksReceived   int           `json:"chunks_received"`
	BufferSize       int           `json:"buffer_size"`
	EstimatedSeconds float64       `json:"estimated_seconds"`
}

// Accumulator buffers one session's inbound audio. The orchestrator loop is
// the only writer; the mutex lets introspection read Stats concurrently.
type Accumulator struct {
	mu         sync.Mutex
	sampleRate int
	threshold  int
	samples    []int16
	chunks     int
	startTime  time.Time
	signalled  bool
	now        func() time.Time
}

// NewAccumulator returns an accumulator for sampleRate that reports ready
// once window worth of samples is buffered.
func NewAccumulator(sampleRate int, window time.Duration) *Accumulator {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if window <= 0 {
		window = DefaultReadyWindow
	}
	threshold := int(int64(sampleRate) * int64(window) / int64(time.Second))
	if threshold < 1 {
		threshold = 1
	}
	return &Accumulator{sampleRate: sampleRate, threshold: threshold, now: time.Now}
}

// SampleRate returns the rate decoded chunks must use.
func (a *Accumulator) SampleRate() int { return a.sampleRate }

// Start resets the buffer for a new stream.
func (a *Accumulator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = make([]int16, 0, a.threshold*2)
	a.chunks = 0
	a.signalled = false
	a.startTime = a.now()
}

// Append decodes one base64 chunk and appends its samples. ready is true on
// exactly the chunk whose append first crosses the threshold since the last
// Start or Drain. A chunk that fails to decode leaves the buffer untouched.
func (a *Accumulator) Append(encoded string) (bool, error) {
	samples, err := speech.DecodeChunk(encoded, a.sampleRate)
	if err != nil {
		return false, &DecodeError{Err: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.samples == nil {
		a.samples = make([]int16, 0, a.threshold*2)
		a.startTime = a.now()
	}
	a.samples = append(a.samples, samples...)
	a.chunks++
	if !a.signalled && len(a.samples) >= a.threshold {
		a.signalled = true
		return true, nil
	}
	return false, nil
}

// Drain returns the buffered samples and clears the buffer.
func (a *Accumulator) Drain() []int16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.samples
	a.samples = nil
	a.signalled = false
	return out
}

// Snapshot copies the buffered samples without clearing them.
func (a *Accumulator) Snapshot() []int16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int16(nil), a.samples...)
}

// Release drops the buffer and counters on teardown.
func (a *Accumulator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = nil
	a.chunks = 0
	a.signalled = false
	a.startTime = time.Time{}
}

// Stats describes the current buffer.
func (a *Accumulator) Stats() AccumulatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	var elapsed time.Duration
	if !a.startTime.IsZero() {
		elapsed = a.now().Sub(a.startTime)
	}
	return AccumulatorStats{
		Duration:         elapsed,
		ChunksReceived:   a.chunks,
		BufferSize:       len(a.samples),
		EstimatedSeconds: float64(len(a.samples)) / float64(a.sampleRate),
	}
}
