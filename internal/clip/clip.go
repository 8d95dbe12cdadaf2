package clip

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Last-Voices-Collective/lastvoices/internal/frame"
)

// Clips must be mono: each playback occupies exactly one channel of a stereo
// output device, so a multi-channel source has no defined meaning here.
var ErrUnsupportedChannelLayout = errors.New("clip is not single-channel")

// A Clip is one language's recorded audio source. Immutable after Load.
//
// A prefix of the clip is held in memory (Preloaded) so playback can begin
// before the first storage read completes. The remainder is streamed from
// disk via OpenRemainder.
type Clip struct {
	Name string
	Path string

	// SampleRate of the frames this clip yields. When the clip was loaded
	// with a target rate, this is the target rate, not the file's.
	SampleRate int

	// TotalFrames the clip yields in total, Preloaded included.
	TotalFrames int

	// Preloaded is the in-memory prefix, length min(TotalFrames, preload limit).
	Preloaded frame.PCMFrame

	// Source-file geometry, needed to position the remainder reader.
	srcSampleRate    int
	srcPreloadFrames int
	srcTotalFrames   int
}

// New builds a clip directly from memory, without backing storage. When
// preloaded holds fewer than totalFrames frames the caller must supply the
// remainder through its own reader; OpenRemainder has no file to go to.
func New(name string, sampleRate int, preloaded frame.PCMFrame, totalFrames int) *Clip {
	return &Clip{
		Name:             name,
		SampleRate:       sampleRate,
		TotalFrames:      totalFrames,
		Preloaded:        preloaded,
		srcSampleRate:    sampleRate,
		srcPreloadFrames: len(preloaded),
		srcTotalFrames:   totalFrames,
	}
}

// Load reads the clip at path, validates it is mono, and preloads up to
// preloadFrames frames into memory.
//
// When targetSampleRate is non-zero and differs from the file's rate, the
// preloaded prefix is resampled at load time and readers returned by
// OpenRemainder resample transparently; SampleRate and TotalFrames then
// describe the resampled stream.
func Load(name, path string, preloadFrames int, targetSampleRate int) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening clip %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("decoding clip %s: invalid wav file", path)
	}
	if dec.NumChans != 1 {
		return nil, fmt.Errorf("clip %s has %d channels: %w", path, dec.NumChans, ErrUnsupportedChannelLayout)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("seeking to PCM data of %s: %w", path, err)
	}

	bytesPerFrame := int(dec.BitDepth) / 8
	srcTotal := int(dec.PCMLen()) / bytesPerFrame
	srcRate := int(dec.SampleRate)
	if preloadFrames > srcTotal {
		preloadFrames = srcTotal
	}

	preloaded, err := readFrames(dec, preloadFrames)
	if err != nil {
		return nil, fmt.Errorf("preloading %s: %w", path, err)
	}

	c := &Clip{
		Name:             name,
		Path:             path,
		SampleRate:       srcRate,
		TotalFrames:      srcTotal,
		Preloaded:        preloaded,
		srcSampleRate:    srcRate,
		srcPreloadFrames: len(preloaded),
		srcTotalFrames:   srcTotal,
	}

	if targetSampleRate != 0 && targetSampleRate != srcRate {
		c.SampleRate = targetSampleRate
		c.Preloaded = resampleAll(preloaded, srcRate, targetSampleRate)
		c.TotalFrames = scaleFrames(srcTotal, srcRate, targetSampleRate)
	}

	return c, nil
}

// PreloadCoversAll reports whether the preloaded prefix holds the entire
// clip, making OpenRemainder unnecessary for playback.
func (c *Clip) PreloadCoversAll() bool {
	return c.srcPreloadFrames == c.srcTotalFrames
}

// OpenRemainder returns a reader positioned at the first frame not covered by
// the preloaded prefix. Reads past end-of-clip return progressively shorter
// blocks down to zero length, which is the canonical end-of-clip signal.
func (c *Clip) OpenRemainder() (SequentialReader, error) {
	r, err := openWavReader(c.Path, c.srcPreloadFrames)
	if err != nil {
		return nil, err
	}
	if c.SampleRate == c.srcSampleRate {
		return r, nil
	}
	return newResampleReader(r, c.srcSampleRate, c.SampleRate), nil
}

// readFrames pulls exactly n mono frames from the decoder, normalised to
// [-1, 1]. Returns fewer frames only if the file ends early.
func readFrames(dec *wav.Decoder, n int) (frame.PCMFrame, error) {
	if n == 0 {
		return frame.PCMFrame{}, nil
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: int(dec.SampleRate)},
		Data:           make([]int, n),
		SourceBitDepth: int(dec.BitDepth),
	}
	out := make(frame.PCMFrame, 0, n)
	scale := sampleScale(int(dec.BitDepth))
	for len(out) < n {
		read, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, err
		}
		if read == 0 {
			break
		}
		if read > n-len(out) {
			read = n - len(out)
		}
		for _, s := range buf.Data[:read] {
			out = append(out, float32(s)*scale)
		}
	}
	return out, nil
}

func sampleScale(bitDepth int) float32 {
	return 1.0 / float32(int(1)<<(bitDepth-1))
}

func scaleFrames(frames, fromRate, toRate int) int {
	return int(int64(frames) * int64(toRate) / int64(fromRate))
}
