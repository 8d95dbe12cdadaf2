package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Last-Voices-Collective/lastvoices/internal/audiodevice"
	"github.com/Last-Voices-Collective/lastvoices/internal/frame"
)

const cbBlockSize = 8

func newTestCallback(t *testing.T, targetChannel int) (*realtimeCallback, chan frame.PCMFrame, *Coordinator, *fixedClock) {
	t.Helper()
	coord, clock := newTestCoordinator(StrategyFadeout)
	sess := testSession("a", testFade)
	sess.channel = audiodevice.OutputChannel{DeviceIndex: 0, Channel: targetChannel, Name: "dummy"}
	startStreaming(t, coord, sess)

	queue := make(chan frame.PCMFrame, 16)
	cb := newRealtimeCallback(coord, sess, queue, testLogger())
	return cb, queue, coord, clock
}

func stereoOut() [][]float32 {
	return [][]float32{make([]float32, cbBlockSize), make([]float32, cbBlockSize)}
}

func constBlock(n int, v float32) frame.PCMFrame {
	b := make(frame.PCMFrame, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestCallback_WritesBlockToTargetChannelOnly(t *testing.T) {
	for _, target := range []int{0, 1} {
		cb, queue, _, _ := newTestCallback(t, target)
		queue <- constBlock(cbBlockSize, 0.5)

		out := stereoOut()
		// Dirty both channels to prove the sibling gets actively zeroed.
		out[0][3] = 0.9
		out[1][3] = 0.9
		res := cb.process(out)

		assert.Equal(t, audiodevice.Continue, res)
		for i := range out[target] {
			assert.Equal(t, float32(0.5), out[target][i])
			assert.Equal(t, float32(0), out[1-target][i])
		}
		assert.Equal(t, reasonNone, cb.completion())
	}
}

func TestCallback_TracksDeliveredFrames(t *testing.T) {
	cb, queue, _, _ := newTestCallback(t, 0)
	queue <- constBlock(cbBlockSize, 0.1)
	queue <- constBlock(cbBlockSize, 0.1)

	cb.process(stereoOut())
	cb.process(stereoOut())

	assert.Equal(t, int64(2*cbBlockSize), cb.sess.cursor.Load())
}

func TestCallback_EmptyQueueAborts(t *testing.T) {
	cb, _, _, _ := newTestCallback(t, 0)

	out := stereoOut()
	out[0][0] = 0.7
	res := cb.process(out)

	assert.Equal(t, audiodevice.Abort, res)
	assert.Equal(t, reasonUnderrun, cb.completion())
	for _, ch := range out {
		for i := range ch {
			assert.Equal(t, float32(0), ch[i])
		}
	}
}

func TestCallback_ShortBlockCompletes(t *testing.T) {
	cb, queue, _, _ := newTestCallback(t, 0)
	queue <- constBlock(3, 0.5)

	out := stereoOut()
	out[0][5] = 0.9
	res := cb.process(out)

	assert.Equal(t, audiodevice.Complete, res)
	assert.Equal(t, reasonCompleted, cb.completion())
	assert.Equal(t, float32(0.5), out[0][2])
	for i := 3; i < cbBlockSize; i++ {
		assert.Equal(t, float32(0), out[0][i], "frame %d past end not zero-filled", i)
	}
	assert.Equal(t, int64(3), cb.sess.cursor.Load())
}

func TestCallback_EmptyTerminalBlockCompletes(t *testing.T) {
	cb, queue, _, _ := newTestCallback(t, 0)
	queue <- frame.PCMFrame{}

	res := cb.process(stereoOut())

	assert.Equal(t, audiodevice.Complete, res)
	assert.Equal(t, reasonCompleted, cb.completion())
}

func TestCallback_FadeAttenuates(t *testing.T) {
	cb, queue, coord, clock := newTestCallback(t, 0)

	// A new request puts the callback's session into fade-out.
	b := testSession("b", testFade)
	decision, fading := coord.Resolve(b, false)
	require.Equal(t, DecisionStartAfterFade, decision)
	require.Same(t, cb.sess, fading)

	clock.Advance(100 * time.Millisecond)
	offset := int((100 * time.Millisecond).Seconds() * float64(cb.sess.clip.SampleRate))

	queue <- constBlock(cbBlockSize, 1.0)
	out := stereoOut()
	res := cb.process(out)

	require.Equal(t, audiodevice.Continue, res)
	curve := cb.sess.fadeCurve
	for i := 0; i < cbBlockSize; i++ {
		require.Equal(t, curve[offset+i], out[0][i], "frame %d not attenuated by the curve", i)
		if i > 0 {
			require.Less(t, out[0][i], out[0][i-1], "attenuation must decrease within the block")
		}
	}
}

func TestCallback_FadePastCurveEndIsSilent(t *testing.T) {
	cb, queue, coord, clock := newTestCallback(t, 0)
	b := testSession("b", testFade)
	_, fading := coord.Resolve(b, false)
	require.Same(t, cb.sess, fading)

	// Beyond the curve but not past the expiry check seen by this block:
	// clamp to silence rather than indexing out of range.
	clock.Advance(testFade - time.Nanosecond)
	queue <- constBlock(cbBlockSize, 1.0)
	out := stereoOut()
	out[0][0] = 0.9
	res := cb.process(out)

	require.Equal(t, audiodevice.Continue, res)
	for i := range out[0] {
		assert.Equal(t, float32(0), out[0][i])
	}
}

func TestCallback_FadeExpiryCompletes(t *testing.T) {
	cb, queue, coord, clock := newTestCallback(t, 0)
	b := testSession("b", testFade)
	_, fading := coord.Resolve(b, false)
	require.Same(t, cb.sess, fading)

	clock.Advance(testFade + time.Millisecond)
	queue <- constBlock(cbBlockSize, 1.0)
	res := cb.process(stereoOut())

	assert.Equal(t, audiodevice.Complete, res)
	assert.Equal(t, reasonFaded, cb.completion())
}

func TestCallback_PanicConvertsToCompletion(t *testing.T) {
	cb, queue, _, _ := newTestCallback(t, 0)
	queue <- constBlock(cbBlockSize, 0.5)

	// A mono buffer makes the sibling-channel write blow up inside process.
	out := [][]float32{make([]float32, cbBlockSize)}
	res := cb.process(out)

	assert.Equal(t, audiodevice.Complete, res)
	assert.Equal(t, reasonCompleted, cb.completion())
}

func TestCallback_FirstReasonWins(t *testing.T) {
	cb, queue, _, _ := newTestCallback(t, 0)

	res := cb.process(stereoOut())
	require.Equal(t, audiodevice.Abort, res)
	require.Equal(t, reasonUnderrun, cb.completion())

	// A later completion must not overwrite the recorded underrun.
	queue <- constBlock(2, 0.5)
	cb.process(stereoOut())
	assert.Equal(t, reasonUnderrun, cb.completion())
}
