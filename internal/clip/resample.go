package clip

import (
	"github.com/oov/audio/resampler"

	"github.com/Last-Voices-Collective/lastvoices/internal/frame"
)

const resampleQuality = 10

// resampleAll converts a whole in-memory buffer from one sample rate to
// another. Used for the preloaded prefix at load time.
func resampleAll(in frame.PCMFrame, fromRate, toRate int) frame.PCMFrame {
	if len(in) == 0 {
		return frame.PCMFrame{}
	}
	r := resampler.New(1, fromRate, toRate, resampleQuality)
	out := make(frame.PCMFrame, 0, scaleFrames(len(in), fromRate, toRate)+64)
	chunk := make(frame.PCMFrame, 8192)
	for len(in) > 0 {
		read, written := r.ProcessFloat32(0, in, chunk)
		out = append(out, chunk[:written]...)
		in = in[read:]
		if read == 0 && written == 0 {
			break
		}
	}
	return out
}

// resampleReader wraps a SequentialReader and converts its stream to a new
// sample rate block by block, preserving the short-block end-of-clip signal.
type resampleReader struct {
	src      SequentialReader
	r        *resampler.Resampler
	fromRate int
	toRate   int

	in      frame.PCMFrame
	inLen   int
	carry   frame.PCMFrame
	srcDone bool
	pos     int64
}

func newResampleReader(src SequentialReader, fromRate, toRate int) *resampleReader {
	return &resampleReader{
		src:      src,
		r:        resampler.New(1, fromRate, toRate, resampleQuality),
		fromRate: fromRate,
		toRate:   toRate,
	}
}

func (r *resampleReader) ReadBlock(dst frame.PCMFrame) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	filled := 0
	for filled < len(dst) {
		if len(r.carry) > 0 {
			n := copy(dst[filled:], r.carry)
			r.carry = r.carry[n:]
			filled += n
			continue
		}
		if r.srcDone {
			break
		}
		if err := r.fill(len(dst)); err != nil {
			return filled, err
		}
	}
	r.pos += int64(filled)
	return filled, nil
}

// fill reads one source block and pushes it through the resampler into carry.
func (r *resampleReader) fill(blockSize int) error {
	srcBlock := scaleFrames(blockSize, r.toRate, r.fromRate) + 16
	if r.in == nil || len(r.in) < srcBlock {
		r.in = make(frame.PCMFrame, srcBlock)
	}
	read, err := r.src.ReadBlock(r.in[:srcBlock])
	if err != nil {
		return err
	}
	if read < srcBlock {
		r.srcDone = true
	}

	pending := r.in[:read]
	out := make(frame.PCMFrame, scaleFrames(read, r.fromRate, r.toRate)+64)
	for len(pending) > 0 {
		consumed, written := r.r.ProcessFloat32(0, pending, out)
		r.carry = append(r.carry, out[:written]...)
		pending = pending[consumed:]
		if consumed == 0 && written == 0 {
			break
		}
	}
	return nil
}

func (r *resampleReader) Tell() int64 {
	return r.pos
}

func (r *resampleReader) Close() error {
	return r.src.Close()
}
