package engine

import (
	"log/slog"
	"time"

	"github.com/Last-Voices-Collective/lastvoices/internal/clip"
	"github.com/Last-Voices-Collective/lastvoices/internal/frame"
)

// feeder streams one clip into a bounded queue consumed by the realtime
// callback: the preloaded prefix first, then sequential block reads from
// storage. It never reads or writes crossfade state.
//
// Every queued block is exactly blockSize frames long except the final one,
// whose shorter (possibly zero) length is the end-of-clip signal.
type feeder struct {
	logger    *slog.Logger
	clip      *clip.Clip
	reader    clip.SequentialReader
	queue     chan frame.PCMFrame
	blockSize int

	// preLimit is how many preloaded frames are fed as whole blocks. When the
	// preload covers the entire clip this is the full preload; otherwise it is
	// rounded down to a block boundary and the partial tail is merged with the
	// first storage read, so no short block appears mid-stream.
	preLimit int

	// pushTimeout is one full queue's worth of playback time. A push that
	// cannot complete within it means the consumer has stopped draining —
	// end-of-stream pushback — so the feeder stops rather than blocking
	// indefinitely.
	pushTimeout time.Duration
}

func newFeeder(c *clip.Clip, reader clip.SequentialReader, blockSize, queueCapacity int, logger *slog.Logger) *feeder {
	limit := len(c.Preloaded)
	if !c.PreloadCoversAll() {
		limit -= limit % blockSize
	}
	return &feeder{
		logger:    logger,
		clip:      c,
		reader:    reader,
		queue:     make(chan frame.PCMFrame, queueCapacity),
		blockSize: blockSize,
		preLimit:  limit,
		pushTimeout: time.Duration(
			float64(blockSize) * float64(queueCapacity) / float64(c.SampleRate) * float64(time.Second),
		),
	}
}

// Queue is the bounded block queue the realtime callback pops from.
func (f *feeder) Queue() <-chan frame.PCMFrame {
	return f.queue
}

// enqueuePreload pushes preloaded blocks into the queue without blocking,
// stopping early once the queue fills (expected whenever the preload exceeds
// the queue capacity). Returns the frame offset into the preloaded prefix
// that run must resume from. Called before the output stream opens so the
// first callback invocation always finds audio ready.
func (f *feeder) enqueuePreload() int {
	pre := f.clip.Preloaded
	idx := 0
	for idx < f.preLimit {
		end := min(idx+f.blockSize, f.preLimit)
		select {
		case f.queue <- pre[idx:end]:
			idx = end
		default:
			f.logger.Debug("queue filled during preload enqueue", "frames", idx, "preloaded", len(pre))
			return idx
		}
	}
	return idx
}

// run feeds the rest of the clip: remaining preloaded blocks first, then
// storage reads, each push bounded by pushTimeout. Feeding stops permanently
// once the final short block has been pushed (end of clip), a push times out,
// or a read fails. Closes the reader on exit.
func (f *feeder) run(preloadedOffset int) {
	defer f.reader.Close()

	pre := f.clip.Preloaded
	for idx := preloadedOffset; idx < f.preLimit; {
		end := min(idx+f.blockSize, f.preLimit)
		if !f.push(pre[idx:end]) {
			f.logger.Warn("queue full, stopping feed", "language", f.clip.Name)
			return
		}
		idx = end
	}

	if f.clip.PreloadCoversAll() {
		// The whole clip is in memory. If the preload divides evenly into
		// blocks the consumer has not seen a short block yet, so push an
		// empty terminal one.
		if len(pre)%f.blockSize == 0 {
			if !f.push(frame.PCMFrame{}) {
				f.logger.Warn("queue full, stopping feed", "language", f.clip.Name)
				return
			}
		}
		f.logger.Debug("clip fully preloaded, feed complete", "language", f.clip.Name)
		return
	}

	f.logger.Debug("start reading from storage", "language", f.clip.Name)
	block := make(frame.PCMFrame, f.blockSize)
	n := copy(block, pre[f.preLimit:])
	for {
		read, err := f.reader.ReadBlock(block[n:])
		if err != nil {
			f.logger.Error("storage read failed, stopping feed", "language", f.clip.Name, "err", err)
			return
		}
		n += read
		if !f.push(block[:n]) {
			f.logger.Warn("queue full, stopping feed", "language", f.clip.Name)
			return
		}
		if n < f.blockSize {
			f.logger.Debug("last block reached", "language", f.clip.Name, "position", f.reader.Tell())
			return
		}
		block = make(frame.PCMFrame, f.blockSize)
		n = 0
	}
}

func (f *feeder) push(b frame.PCMFrame) bool {
	timer := time.NewTimer(f.pushTimeout)
	defer timer.Stop()
	select {
	case f.queue <- b:
		return true
	case <-timer.C:
		return false
	}
}
