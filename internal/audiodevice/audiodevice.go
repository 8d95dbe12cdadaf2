package audiodevice

// OutputChannel identifies one addressable mono channel of a stereo output
// device. Treating each channel of a stereo device as an individual speaker
// lets the installation address twice as many speakers per sound card.
//
// Two OutputChannels are equal iff DeviceIndex and Channel match; Name is
// carried for logging only and is identical for both channels of a device.
type OutputChannel struct {
	DeviceIndex int
	Channel     int // 0 or 1
	Name        string
}

// CallbackResult tells the backend what to do after a callback invocation.
type CallbackResult int

const (
	// Continue playback; the callback will be invoked again.
	Continue CallbackResult = iota
	// Complete stops the stream after the current buffer has played out.
	Complete
	// Abort stops the stream as soon as possible, discarding buffered audio.
	Abort
)

// Callback is the realtime pull callback. out holds one non-interleaved
// buffer per device channel (out[0] = left, out[1] = right), each with the
// stream's block size capacity. Implementations must not block, allocate, or
// perform I/O; they run on the audio backend's realtime thread.
type Callback func(out [][]float32) CallbackResult

// Stream is one open playback stream bound to a device.
type Stream interface {
	Start() error
	// Done is closed once the callback has signalled Complete or Abort and
	// the backend has stopped invoking it.
	Done() <-chan struct{}
	// Close releases the device. It is only legal to open a new stream on the
	// same device once Close has returned.
	Close() error
}

// Opener opens realtime playback streams against output channels.
//
// There is one production implementation (PortAudio) and an in-memory one for
// tests that drives the callback by hand.
type Opener interface {
	OpenStream(ch OutputChannel, sampleRate, blockSize int, cb Callback) (Stream, error)
}

// Silence zeroes a backend output buffer. Handy for implementations that must
// keep feeding the device after the engine has finished.
func Silence(out [][]float32) {
	for _, ch := range out {
		for i := range ch {
			ch[i] = 0
		}
	}
}
