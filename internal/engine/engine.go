// Package engine implements the concurrent clip-playback core of the
// installation: the overlap arbitration state machine, the disk-to-queue
// stream feeder, the realtime pull callback, and the scheduler that ties them
// to output channels, lights, and the idle fallback timer.
package engine

import "errors"

// OverlapStrategy decides what happens when a clip is requested while another
// is already sounding.
type OverlapStrategy string

const (
	// StrategyAbort lets the current clip finish and ignores the request.
	StrategyAbort OverlapStrategy = "abort"
	// StrategyFadeout fades the current clip out and queues the new one to
	// start once the fade completes. Requests queued behind an in-progress
	// fade are superseded by newer ones.
	StrategyFadeout OverlapStrategy = "fadeout"
)

// ParseOverlapStrategy converts a config string into an OverlapStrategy.
func ParseOverlapStrategy(s string) (OverlapStrategy, error) {
	switch OverlapStrategy(s) {
	case StrategyAbort:
		return StrategyAbort, nil
	case StrategyFadeout:
		return StrategyFadeout, nil
	default:
		return "", errors.New("unknown overlap strategy: " + s)
	}
}

var (
	// ErrUnknownLanguage is returned for a play request naming a language the
	// catalog does not hold.
	ErrUnknownLanguage = errors.New("unknown language")

	// ErrDeviceUnavailable is returned when no output stream could be opened
	// for a play request.
	ErrDeviceUnavailable = errors.New("no output device channel available")

	// ErrUnderrun indicates the realtime callback found the feed queue empty.
	ErrUnderrun = errors.New("feed queue empty during realtime callback")
)
