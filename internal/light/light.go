// Package light abstracts the indicator lights wired to individual languages.
// The actual GPIO relay control lives outside this module; the engine only
// needs the on/off capability.
package light

import "log/slog"

// Light is toggled exactly once at playback start and once at playback stop.
type Light interface {
	On()
	Off()
}

// Nop is the light used for languages that have no physical light wired up.
type Nop struct{}

func (Nop) On()  {}
func (Nop) Off() {}

// Logged wraps a Light (or stands alone) and records every toggle, which is
// all the feedback available on a development machine without relay hardware.
type Logged struct {
	Language string
	Next     Light
}

func (l Logged) On() {
	slog.Debug("light on", "language", l.Language)
	if l.Next != nil {
		l.Next.On()
	}
}

func (l Logged) Off() {
	slog.Debug("light off", "language", l.Language)
	if l.Next != nil {
		l.Next.Off()
	}
}
