//go:build cgo

package device

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"

	"github.com/Last-Voices-Collective/lastvoices/internal/audiodevice"
)

// PortAudioOpener discovers output devices and opens realtime callback
// streams against them via PortAudio.
//
// Create exactly one per process: it owns the PortAudio initialisation.
type PortAudioOpener struct {
	logger  *slog.Logger
	devices []*portaudio.DeviceInfo
}

func NewPortAudioOpener(logger *slog.Logger) (*PortAudioOpener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialising portaudio: %w", err)
	}
	devices, err := portaudio.Devices()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("enumerating audio devices: %w", err)
	}
	return &PortAudioOpener{logger: logger, devices: devices}, nil
}

// DiscoverOutputChannels returns both channels of every stereo-capable output
// device whose name contains filter (case-insensitive). An empty filter
// matches every device.
func (o *PortAudioOpener) DiscoverOutputChannels(filter string) []audiodevice.OutputChannel {
	filter = strings.ToLower(filter)
	var channels []audiodevice.OutputChannel
	for idx, info := range o.devices {
		if info.MaxOutputChannels < 2 {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(info.Name), filter) {
			continue
		}
		o.logger.Debug("discovered output device", "index", idx, "name", info.Name)
		for ch := 0; ch < 2; ch++ {
			channels = append(channels, audiodevice.OutputChannel{
				DeviceIndex: idx,
				Channel:     ch,
				Name:        info.Name,
			})
		}
	}
	return channels
}

// OpenStream opens a stereo callback stream on the device owning ch. The
// engine's callback keeps running until it signals Complete or Abort; after
// that the wrapped callback plays silence until the stream is closed.
func (o *PortAudioOpener) OpenStream(
	ch audiodevice.OutputChannel,
	sampleRate int,
	blockSize int,
	cb audiodevice.Callback,
) (audiodevice.Stream, error) {
	if ch.DeviceIndex < 0 || ch.DeviceIndex >= len(o.devices) {
		return nil, fmt.Errorf("no such device index %d", ch.DeviceIndex)
	}
	info := o.devices[ch.DeviceIndex]

	s := &portAudioStream{
		logger: o.logger.With("stream uuid", uuid.New(), "device", info.Name),
		done:   make(chan struct{}),
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: 2,
			Latency:  info.DefaultLowOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: blockSize,
	}

	stream, err := portaudio.OpenStream(params, func(out [][]float32) {
		if s.finished.Load() {
			audiodevice.Silence(out)
			return
		}
		if cb(out) != audiodevice.Continue {
			s.finished.Store(true)
			close(s.done)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("opening stream on %s: %w", info.Name, err)
	}
	s.stream = stream
	return s, nil
}

// Close terminates PortAudio. All streams must be closed first.
func (o *PortAudioOpener) Close() error {
	return portaudio.Terminate()
}

type portAudioStream struct {
	logger   *slog.Logger
	stream   *portaudio.Stream
	done     chan struct{}
	finished atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

func (s *portAudioStream) Start() error {
	return s.stream.Start()
}

func (s *portAudioStream) Done() <-chan struct{} {
	return s.done
}

func (s *portAudioStream) Close() error {
	s.stopOnce.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.logger.Error("error while stopping stream", "err", err)
			s.stopErr = err
		}
		if err := s.stream.Close(); err != nil {
			s.logger.Error("error while closing stream", "err", err)
			if s.stopErr == nil {
				s.stopErr = err
			}
		}
	})
	return s.stopErr
}
