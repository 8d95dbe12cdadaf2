package engine

import (
	"log/slog"
	"sync/atomic"

	"github.com/Last-Voices-Collective/lastvoices/internal/audiodevice"
	"github.com/Last-Voices-Collective/lastvoices/internal/frame"
)

// completionReason records why a stream stopped, written by the realtime
// callback and read by the session goroutine once the stream has closed.
type completionReason int32

const (
	reasonNone completionReason = iota
	reasonCompleted
	reasonFaded
	reasonUnderrun
)

func (r completionReason) String() string {
	switch r {
	case reasonCompleted:
		return "completed"
	case reasonFaded:
		return "faded"
	case reasonUnderrun:
		return "underrun"
	default:
		return "none"
	}
}

// realtimeCallback is the per-stream pull callback. It pops blocks from the
// feeder queue, applies fade attenuation, and writes into the target channel
// of the device buffer. It must return within the device's realtime deadline:
// no blocking I/O, no allocation, no lock held beyond the coordinator's
// arithmetic-bounded critical sections.
type realtimeCallback struct {
	logger  *slog.Logger
	coord   *Coordinator
	sess    *session
	queue  <-chan frame.PCMFrame
	target int // device channel this session sounds on

	reason    atomic.Int32
	underruns atomic.Int64
}

func newRealtimeCallback(coord *Coordinator, sess *session, queue <-chan frame.PCMFrame, logger *slog.Logger) *realtimeCallback {
	return &realtimeCallback{
		logger: logger,
		coord:  coord,
		sess:   sess,
		queue:  queue,
		target: sess.channel.Channel,
	}
}

func (cb *realtimeCallback) completion() completionReason {
	return completionReason(cb.reason.Load())
}

func (cb *realtimeCallback) setReason(r completionReason) {
	cb.reason.CompareAndSwap(int32(reasonNone), int32(r))
}

// process handles one callback invocation. Any unexpected failure inside it
// is converted to stream completion rather than propagated, so the device is
// always released.
func (cb *realtimeCallback) process(out [][]float32) (res audiodevice.CallbackResult) {
	defer func() {
		if r := recover(); r != nil {
			cb.logger.Error("uncaught playback error, shutting stream down", "panic", r)
			cb.setReason(reasonCompleted)
			res = audiodevice.Complete
		}
	}()

	var block frame.PCMFrame
	select {
	case block = <-cb.queue:
	default:
		// Underrun. The install favours fast, audible failure over silent
		// stalls: abort the stream immediately.
		cb.logger.Warn("feed queue empty, aborting stream", "language", cb.sess.clip.Name)
		cb.underruns.Add(1)
		cb.setReason(reasonUnderrun)
		audiodevice.Silence(out)
		return audiodevice.Abort
	}

	target := out[cb.target]
	sibling := out[1-cb.target]
	for i := range sibling {
		sibling[i] = 0
	}

	n := len(block)
	if offset, fading := cb.coord.FadeFrameOffset(cb.sess); fading {
		curve := cb.sess.fadeCurve
		for i := 0; i < n; i++ {
			if idx := offset + i; idx < len(curve) {
				target[i] = block[i] * curve[idx]
			} else {
				target[i] = 0
			}
		}
	} else {
		copy(target[:n], block)
	}
	cb.sess.cursor.Add(int64(n))

	if n < len(target) {
		// End of clip: zero-fill the remainder and finish cleanly. Not an
		// underrun.
		for i := n; i < len(target); i++ {
			target[i] = 0
		}
		cb.logger.Info("end of clip reached, shutting stream down",
			"language", cb.sess.clip.Name,
			"device", cb.sess.channel.Name,
			"channel", cb.sess.channel.Channel,
		)
		cb.setReason(reasonCompleted)
		return audiodevice.Complete
	}

	if cb.coord.FadeExpired(cb.sess) {
		cb.logger.Info("fadeout time reached, shutting stream down",
			"language", cb.sess.clip.Name,
			"device", cb.sess.channel.Name,
			"channel", cb.sess.channel.Channel,
		)
		cb.setReason(reasonFaded)
		return audiodevice.Complete
	}

	return audiodevice.Continue
}
