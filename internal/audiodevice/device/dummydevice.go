package device

import (
	"errors"
	"sync"
	"time"

	"github.com/Last-Voices-Collective/lastvoices/internal/audiodevice"
)

// DummyOpener is an in-memory Opener that lets tests drive the realtime
// callback by hand (or automatically at a fixed pump interval) and inspect
// everything that was "played".
//
// A minimal example of the architecture of an Opener, useful in testing.
type DummyOpener struct {
	// OpenErr, when set, is returned by OpenStream to simulate an
	// unavailable device.
	OpenErr error

	// AutoPump makes streams invoke their callback every PumpInterval once
	// started, without manual Step calls.
	AutoPump     bool
	PumpInterval time.Duration

	mu      sync.Mutex
	streams []*DummyStream
}

func NewDummyOpener() *DummyOpener {
	return &DummyOpener{}
}

func (o *DummyOpener) OpenStream(
	ch audiodevice.OutputChannel,
	sampleRate int,
	blockSize int,
	cb audiodevice.Callback,
) (audiodevice.Stream, error) {
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	s := &DummyStream{
		Channel:    ch,
		SampleRate: sampleRate,
		blockSize:  blockSize,
		cb:         cb,
		done:       make(chan struct{}),
		autoPump:   o.AutoPump,
		pumpEvery:  o.PumpInterval,
	}
	o.mu.Lock()
	o.streams = append(o.streams, s)
	o.mu.Unlock()
	return s, nil
}

// Streams returns every stream opened so far, in order.
func (o *DummyOpener) Streams() []*DummyStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*DummyStream(nil), o.streams...)
}

// DummyStream records the output of every callback invocation.
type DummyStream struct {
	Channel    audiodevice.OutputChannel
	SampleRate int

	blockSize int
	cb        audiodevice.Callback
	done      chan struct{}
	autoPump  bool
	pumpEvery time.Duration

	mu       sync.Mutex
	started  bool
	closed   bool
	finished bool
	// Played holds a copy of both output channels for each invocation.
	Played [][2][]float32
}

var errStreamClosed = errors.New("stream already closed")

func (s *DummyStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.started = true
	if s.autoPump {
		go s.pump()
	}
	return nil
}

func (s *DummyStream) pump() {
	interval := s.pumpEvery
	if interval <= 0 {
		interval = 100 * time.Microsecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if s.Step() != audiodevice.Continue {
			return
		}
	}
}

// Step invokes the callback once, as the audio backend would, and records the
// resulting stereo buffer.
func (s *DummyStream) Step() audiodevice.CallbackResult {
	s.mu.Lock()
	if s.closed || s.finished {
		s.mu.Unlock()
		return audiodevice.Abort
	}
	s.mu.Unlock()

	out := [][]float32{make([]float32, s.blockSize), make([]float32, s.blockSize)}
	res := s.cb(out)

	s.mu.Lock()
	var rec [2][]float32
	rec[0] = append([]float32(nil), out[0]...)
	rec[1] = append([]float32(nil), out[1]...)
	s.Played = append(s.Played, rec)
	if res != audiodevice.Continue && !s.finished {
		s.finished = true
		close(s.done)
	}
	s.mu.Unlock()
	return res
}

func (s *DummyStream) Done() <-chan struct{} {
	return s.done
}

func (s *DummyStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PlayedFrames concatenates everything written to the given device channel.
func (s *DummyStream) PlayedFrames(channel int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []float32
	for _, rec := range s.Played {
		out = append(out, rec[channel]...)
	}
	return out
}
