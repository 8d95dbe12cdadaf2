package engine

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Last-Voices-Collective/lastvoices/internal/clip"
	"github.com/Last-Voices-Collective/lastvoices/internal/frame"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClip builds an in-memory clip whose preload holds every frame, so no
// storage access is needed. Frame i carries the value i/1000 mod 1 to keep
// blocks distinguishable.
func testClip(name string, frames, sampleRate int) *clip.Clip {
	pre := make(frame.PCMFrame, frames)
	for i := range pre {
		pre[i] = float32(i%1000) / 1000
	}
	return clip.New(name, sampleRate, pre, frames)
}

// testSession creates a session around an in-memory clip.
func testSession(name string, fadeDuration time.Duration) *session {
	return newSession(testClip(name, 16000, 16000), fadeDuration)
}

// stubReader serves a fixed buffer as a clip's storage remainder.
type stubReader struct {
	data   frame.PCMFrame
	pos    int
	err    error
	closed atomic.Bool
}

func (r *stubReader) ReadBlock(dst frame.PCMFrame) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n := copy(dst, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *stubReader) Tell() int64 {
	return int64(r.pos)
}

func (r *stubReader) Close() error {
	r.closed.Store(true)
	return nil
}

// fixedClock is an injectable coordinator clock tests can step by hand.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Unix(1000, 0)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
