package engine

import (
	"log/slog"
	"sync"
	"time"
)

// Decision is the outcome of overlap arbitration for one play request.
type Decision int

const (
	// DecisionStart lets the request start streaming immediately.
	DecisionStart Decision = iota
	// DecisionAbort drops the request; the current clip keeps playing.
	DecisionAbort
	// DecisionStartAfterFade lets the request start once the session returned
	// alongside it has finished fading out.
	DecisionStartAfterFade
)

func (d Decision) String() string {
	switch d {
	case DecisionStart:
		return "start"
	case DecisionAbort:
		return "abort"
	case DecisionStartAfterFade:
		return "start_after_fade"
	default:
		return "unknown"
	}
}

// Coordinator is the shared state machine arbitrating overlapping play
// requests. Every mutation of the active/fading/preempted bookkeeping happens
// under one mutex, serialising concurrent play requests; the realtime
// callback takes the same mutex only for arithmetic-bounded critical
// sections (fade offset and expiry checks).
type Coordinator struct {
	logger       *slog.Logger
	strategy     OverlapStrategy
	fadeDuration time.Duration

	// now is the clock, injectable in tests.
	now func() time.Time

	mu sync.Mutex
	// active is the session currently bound to the engine's single logical
	// callback slot. It may not be audible yet (it could be waiting behind a
	// fade), but it is the session any new request overlaps with.
	active *session
	// fading is the session presently executing its fade-out, or nil.
	// Invariant: at most one session fades at a time, and it is always a
	// previous active session.
	fading    *session
	fadeStart time.Time
	// preempted holds identities of sessions that were queued behind a fade
	// and got superseded before they could start; they must terminate
	// silently on wake.
	preempted map[uint64]struct{}
}

func NewCoordinator(strategy OverlapStrategy, fadeDuration time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:       logger,
		strategy:     strategy,
		fadeDuration: fadeDuration,
		now:          time.Now,
		preempted:    make(map[uint64]struct{}),
	}
}

// SoundingClipName reports the clip the active session is audibly playing,
// if any. Callers use it to skip re-requests of an already-sounding clip. A
// session still queued behind a fade is not sounding: re-requesting its clip
// goes through arbitration and supersedes it.
func (c *Coordinator) SoundingClipName() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || !c.active.alive.Load() {
		return "", false
	}
	switch c.active.getState() {
	case stateStreaming, stateFadingOut:
		return c.active.clip.Name, true
	}
	return "", false
}

// Resolve arbitrates one play request against the current playback state.
// Unless the decision is DecisionAbort, requested becomes the new active
// session. For DecisionStartAfterFade the returned session must be awaited
// (AwaitFade) before requested may produce any audio.
//
// Every input combination maps to a defined decision; there is no invalid
// state outcome.
func (c *Coordinator) Resolve(requested *session, abortIfPlaying bool) (Decision, *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.active
	if cur == nil || !cur.alive.Load() {
		c.active = requested
		return DecisionStart, nil
	}

	if abortIfPlaying || c.strategy == StrategyAbort {
		c.logger.Debug("already playing a clip, aborting playback request",
			"requested", requested.clip.Name,
			"playing", cur.clip.Name,
		)
		return DecisionAbort, nil
	}

	if c.fading != nil && c.fading.alive.Load() {
		// A fade is already in progress, so cur is a session that queued
		// behind it and never got to start. The newest request wins: preempt
		// the waiting session rather than stacking fades.
		c.logger.Debug("pre-empting waiting session", "session", cur.id)
		c.preempted[cur.id] = struct{}{}
		c.active = requested
		return DecisionStartAfterFade, c.fading
	}

	// Nothing is fading, so cur is actually audible. Start fading it now.
	c.logger.Debug("starting fadeout of active session", "session", cur.id)
	c.fadeStart = c.now()
	c.fading = cur
	cur.setState(stateFadingOut)
	c.active = requested
	return DecisionStartAfterFade, cur
}

// AwaitFade blocks until fading has completely finished, clears the fade
// bookkeeping (exactly once across all waiters), and reports whether self was
// preempted while waiting. A preempted session must terminate without
// producing sound; that is a normal arbitration outcome, not an error.
func (c *Coordinator) AwaitFade(fading, self *session) (preempted bool) {
	<-fading.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fading == fading {
		c.fading = nil
		c.fadeStart = time.Time{}
	}
	if _, ok := c.preempted[self.id]; ok {
		delete(c.preempted, self.id)
		return true
	}
	return false
}

// FadeFrameOffset reports how many frames into its fade curve s currently is.
// Returns ok=false when s is not the fading session. Called from the realtime
// callback: the critical section is a fixed number of arithmetic operations.
func (c *Coordinator) FadeFrameOffset(s *session) (offset int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fading != s {
		return 0, false
	}
	elapsed := c.now().Sub(c.fadeStart)
	if elapsed < 0 {
		elapsed = 0
	}
	return int(elapsed.Seconds() * float64(s.clip.SampleRate)), true
}

// FadeExpired reports whether s's fade window has fully elapsed, clearing the
// fade bookkeeping when it has. Called from the realtime callback after the
// current block has been written.
func (c *Coordinator) FadeExpired(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fading != s {
		return false
	}
	if c.now().Sub(c.fadeStart) > c.fadeDuration {
		c.fading = nil
		c.fadeStart = time.Time{}
		return true
	}
	return false
}
