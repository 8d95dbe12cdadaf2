package engine

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/Last-Voices-Collective/lastvoices/internal/audiodevice"
	"github.com/Last-Voices-Collective/lastvoices/internal/clip"
)

// sessionState tracks the lifecycle of one playback attempt.
type sessionState int32

const (
	stateStarting sessionState = iota
	stateStreaming
	stateFadingOut
	stateFinished
	statePreempted
)

func (s sessionState) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case stateStreaming:
		return "streaming"
	case stateFadingOut:
		return "fading_out"
	case stateFinished:
		return "finished"
	case statePreempted:
		return "preempted"
	default:
		return "unknown"
	}
}

// sessionCounter issues the monotonically increasing identities used for
// preemption bookkeeping, instead of any OS-level thread id.
var sessionCounter atomic.Uint64

// session is one attempt to sound one clip on a chosen output channel.
type session struct {
	id      uint64
	clip    *clip.Clip
	channel audiodevice.OutputChannel

	// fadeCurve is precomputed at session creation so the realtime callback
	// never allocates: one attenuation coefficient per frame of the fade
	// window at this clip's sample rate.
	fadeCurve []float32

	state  atomic.Int32
	alive  atomic.Bool
	cursor atomic.Int64 // frames delivered to the callback so far

	// done is closed once the session is completely finished: stream closed,
	// light off, all state settled. Waiting on done is the join operation.
	done chan struct{}
}

func newSession(c *clip.Clip, fadeDuration time.Duration) *session {
	s := &session{
		id:        sessionCounter.Add(1),
		clip:      c,
		fadeCurve: fadeCurve(fadeDuration, c.SampleRate),
		done:      make(chan struct{}),
	}
	s.alive.Store(true)
	s.state.Store(int32(stateStarting))
	return s
}

func (s *session) Done() <-chan struct{} {
	return s.done
}

func (s *session) setState(st sessionState) {
	s.state.Store(int32(st))
}

func (s *session) getState() sessionState {
	return sessionState(s.state.Load())
}

// finish marks the session dead and releases everything joined on it. Must be
// the very last step of a session's lifecycle: waiters may open a new device
// stream as soon as this returns.
func (s *session) finish(st sessionState) {
	s.setState(st)
	s.alive.Store(false)
	close(s.done)
}

// fadeCurveFloor is where the geometric ramp bottoms out before being forced
// to exactly zero: -80 dB, inaudible on installation hardware.
const fadeCurveFloor = 1e-4

// fadeCurve returns attenuation coefficients mapping each frame of the fade
// window onto a geometrically decreasing ramp from 1.0 to 0.0, so perceived
// loudness falls roughly linearly. The final coefficient is exactly zero.
func fadeCurve(fadeDuration time.Duration, sampleRate int) []float32 {
	n := int(fadeDuration.Seconds() * float64(sampleRate))
	if n <= 0 {
		return nil
	}
	curve := make([]float32, n)
	if n == 1 {
		curve[0] = 0
		return curve
	}
	ratio := math.Pow(fadeCurveFloor, 1/float64(n-1))
	v := 1.0
	for i := range curve {
		curve[i] = float32(v)
		v *= ratio
	}
	curve[n-1] = 0
	return curve
}
