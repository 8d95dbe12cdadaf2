package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Last-Voices-Collective/lastvoices/internal/audiodevice"
	"github.com/Last-Voices-Collective/lastvoices/internal/clip"
	"github.com/Last-Voices-Collective/lastvoices/internal/light"
	"github.com/Last-Voices-Collective/lastvoices/internal/observe"
)

// SchedulerConfig carries the plain playback values from the config surface.
type SchedulerConfig struct {
	// FallbackTime is the idle period after which a random clip auto-plays.
	FallbackTime time.Duration
	// FadeoutLength is the duration of the fade applied when a new clip
	// supersedes a playing one.
	FadeoutLength time.Duration
	Strategy      OverlapStrategy
	// BlockSize is frames per block delivered to the realtime callback.
	BlockSize int
	// QueueCapacity is the feeder queue depth, in blocks.
	QueueCapacity int
}

// Scheduler is the top-level entry point of the playback engine. It resolves
// overlap through the coordinator, rotates output channels and random clips
// with no immediate repeats, owns the idle fallback timer, and toggles the
// light associated with each playing language.
type Scheduler struct {
	logger  *slog.Logger
	metrics *observe.Metrics
	catalog *clip.Catalog
	opener  audiodevice.Opener
	coord   *Coordinator
	cfg     SchedulerConfig

	channels []audiodevice.OutputChannel
	lights   map[string]light.Light

	// fallbackCh decouples the timer's firing from the play path: the timer
	// only enqueues a request here, Run drains it. This keeps the timer
	// callback from re-entering overlap resolution.
	fallbackCh chan struct{}

	mu            sync.Mutex
	lastClip      int
	lastChannel   int
	fallbackTimer *time.Timer
}

// NewScheduler wires a playback engine together. channels must be non-empty;
// lights may be nil (no language gets a light then).
func NewScheduler(
	catalog *clip.Catalog,
	opener audiodevice.Opener,
	channels []audiodevice.OutputChannel,
	lights map[string]light.Light,
	cfg SchedulerConfig,
	metrics *observe.Metrics,
	logger *slog.Logger,
) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(channels) == 0 {
		return nil, errors.New("at least one output channel is required")
	}
	if catalog == nil || catalog.Len() == 0 {
		return nil, errors.New("a non-empty clip catalog is required")
	}
	return &Scheduler{
		logger:      logger,
		metrics:     metrics,
		catalog:     catalog,
		opener:      opener,
		coord:       NewCoordinator(cfg.Strategy, cfg.FadeoutLength, logger),
		cfg:         cfg,
		channels:    channels,
		lights:      lights,
		fallbackCh:  make(chan struct{}, 1),
		lastClip:    -1,
		lastChannel: -1,
	}, nil
}

// Run arms the fallback timer and serves idle fallback requests until ctx is
// cancelled. Play requests from external input go directly through
// PlayLanguage and do not pass through here.
func (s *Scheduler) Run(ctx context.Context) error {
	s.armFallbackTimer()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.fallbackTimer != nil {
				s.fallbackTimer.Stop()
			}
			s.mu.Unlock()
			return ctx.Err()
		case <-s.fallbackCh:
			s.logger.Info("hit fallback timer, attempting to play a random language")
			s.metrics.RecordFallback(ctx)
			s.PlayRandomLanguage()
		}
	}
}

// PlayRandomLanguage plays a random clip different from the last one, always
// with forced-abort semantics so a stuck playback cannot block the fallback.
func (s *Scheduler) PlayRandomLanguage() {
	if err := s.PlayLanguage(s.nextLanguage(), true); err != nil {
		s.logger.Error("random play failed", "err", err)
	}
}

// PlayLanguage attempts to play the named language's clip. It returns once
// the request has been resolved; actual playback runs in its own goroutine.
// abortIfPlaying forces abort semantics regardless of the configured
// strategy.
func (s *Scheduler) PlayLanguage(name string, abortIfPlaying bool) error {
	ctx := context.Background()
	s.logger.Info("start attempt to play", "language", name)

	cl := s.catalog.Get(name)
	if cl == nil {
		return fmt.Errorf("%w: %s", ErrUnknownLanguage, name)
	}

	if sounding, ok := s.coord.SoundingClipName(); ok && sounding == name {
		s.logger.Info("already playing, skipping this invocation", "language", name)
		return nil
	}

	sess := newSession(cl, s.cfg.FadeoutLength)
	decision, fading := s.coord.Resolve(sess, abortIfPlaying)
	s.metrics.RecordDecision(ctx, decision.String())
	s.logger.Debug("overlap resolved", "language", name, "decision", decision.String())
	if decision == DecisionAbort {
		return nil
	}

	go s.runSession(ctx, sess, fading)
	return nil
}

// runSession drives one playback session end to end: wait out any fade it is
// queued behind, stream the clip, then restore lights and the fallback timer.
func (s *Scheduler) runSession(ctx context.Context, sess *session, fading *session) {
	logger := s.logger.With("language", sess.clip.Name, "session", sess.id)

	if fading != nil {
		logger.Debug("waiting for fading session", "fading", fading.id)
		if s.coord.AwaitFade(fading, sess) {
			logger.Info("session pre-empted while waiting, skipping playback")
			s.metrics.RecordPreemption(ctx)
			s.metrics.RecordCompletion(ctx, sess.clip.Name, "preempted")
			sess.finish(statePreempted)
			return
		}
	}

	reader, err := sess.clip.OpenRemainder()
	if err != nil {
		logger.Error("could not open clip storage", "err", err)
		s.metrics.RecordCompletion(ctx, sess.clip.Name, "io_error")
		s.armFallbackTimer()
		sess.finish(stateFinished)
		return
	}

	f := newFeeder(sess.clip, reader, s.cfg.BlockSize, s.cfg.QueueCapacity, logger)
	preloaded := f.enqueuePreload()

	sess.channel = s.nextChannel()
	cb := newRealtimeCallback(s.coord, sess, f.Queue(), logger)

	stream, err := s.opener.OpenStream(sess.channel, sess.clip.SampleRate, s.cfg.BlockSize, cb.process)
	if err != nil {
		logger.Error("could not open output stream",
			"device", sess.channel.Name,
			"channel", sess.channel.Channel,
			"err", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err),
		)
		s.metrics.RecordCompletion(ctx, sess.clip.Name, "device_error")
		reader.Close()
		s.armFallbackTimer()
		sess.finish(stateFinished)
		return
	}

	go f.run(preloaded)

	lamp := s.lightFor(sess.clip.Name)
	lamp.On()
	sess.setState(stateStreaming)
	s.metrics.RecordStarted(ctx, sess.clip.Name)
	s.metrics.SessionUp(ctx)
	logger.Info("session started",
		"device", sess.channel.Name,
		"channel", sess.channel.Channel,
		"sampleRate", sess.clip.SampleRate,
	)

	if err := stream.Start(); err != nil {
		logger.Error("could not start output stream", "err", err)
		stream.Close()
		lamp.Off()
		s.metrics.SessionDown(ctx)
		s.metrics.RecordCompletion(ctx, sess.clip.Name, "device_error")
		s.armFallbackTimer()
		sess.finish(stateFinished)
		return
	}

	<-stream.Done()
	stream.Close()
	lamp.Off()

	reason := cb.completion()
	if reason == reasonUnderrun {
		s.metrics.RecordUnderrun(ctx)
	}
	s.metrics.SessionDown(ctx)
	s.metrics.RecordCompletion(ctx, sess.clip.Name, reason.String())
	logger.Info("session stopped", "reason", reason.String(), "framesDelivered", sess.cursor.Load())

	s.armFallbackTimer()
	sess.finish(stateFinished)
}

func (s *Scheduler) lightFor(name string) light.Light {
	if l, ok := s.lights[name]; ok && l != nil {
		return l
	}
	return light.Nop{}
}

// armFallbackTimer cancels and restarts the idle timer. Called once at engine
// startup and once per playback completion.
func (s *Scheduler) armFallbackTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallbackTimer != nil {
		s.fallbackTimer.Stop()
	}
	s.fallbackTimer = time.AfterFunc(s.cfg.FallbackTime, func() {
		select {
		case s.fallbackCh <- struct{}{}:
		default:
		}
	})
	s.logger.Debug("reset fallback timer", "fallbackTime", s.cfg.FallbackTime)
}

// nextLanguage picks a random language different from the previous pick when
// more than one is available.
func (s *Scheduler) nextLanguage() string {
	names := s.catalog.Names()
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := pickIndex(len(names), s.lastClip)
	s.lastClip = idx
	return names[idx]
}

// nextChannel picks a random output channel different from the previous pick
// when more than one is available.
func (s *Scheduler) nextChannel() audiodevice.OutputChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := pickIndex(len(s.channels), s.lastChannel)
	s.lastChannel = idx
	return s.channels[idx]
}

// pickIndex draws uniformly from [0, n) excluding last (when valid and n > 1).
func pickIndex(n, last int) int {
	if n <= 1 {
		return 0
	}
	if last < 0 || last >= n {
		return rand.IntN(n)
	}
	idx := rand.IntN(n - 1)
	if idx >= last {
		idx++
	}
	return idx
}
