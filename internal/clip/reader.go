package clip

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Last-Voices-Collective/lastvoices/internal/frame"
)

// SequentialReader yields successive blocks of mono PCM frames from a clip.
//
// ReadBlock fills dst and returns the number of frames written. A return
// shorter than len(dst) means the clip is near its end; zero means the end
// has been reached. Readers are not safe for concurrent use.
type SequentialReader interface {
	ReadBlock(dst frame.PCMFrame) (int, error)
	// Tell reports the number of frames delivered so far.
	Tell() int64
	Close() error
}

// wavReader streams mono frames from a wav file, skipping a fixed prefix at
// open time so it picks up exactly where the preloaded section ends.
type wavReader struct {
	f     *os.File
	dec   *wav.Decoder
	buf   *goaudio.IntBuffer
	scale float32
	pos   int64
}

func openWavReader(path string, skipFrames int) (*wavReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening clip %s: %w", path, err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("decoding clip %s: invalid wav file", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("seeking to PCM data of %s: %w", path, err)
	}

	r := &wavReader{
		f:     f,
		dec:   dec,
		scale: sampleScale(int(dec.BitDepth)),
	}
	if err := r.skip(skipFrames); err != nil {
		f.Close()
		return nil, fmt.Errorf("skipping preloaded section of %s: %w", path, err)
	}
	r.pos = 0
	return r, nil
}

// skip discards n frames by reading them. The wav decoder exposes no direct
// PCM seek, and this only runs once per playback, off the realtime path.
func (r *wavReader) skip(n int) error {
	scratch := make(frame.PCMFrame, 4096)
	for n > 0 {
		want := len(scratch)
		if n < want {
			want = n
		}
		read, err := r.ReadBlock(scratch[:want])
		if err != nil {
			return err
		}
		if read == 0 {
			return nil
		}
		n -= read
	}
	return nil
}

func (r *wavReader) ReadBlock(dst frame.PCMFrame) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if r.buf == nil || len(r.buf.Data) != len(dst) {
		r.buf = &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: int(r.dec.SampleRate)},
			Data:           make([]int, len(dst)),
			SourceBitDepth: int(r.dec.BitDepth),
		}
	}
	read, err := r.dec.PCMBuffer(r.buf)
	if err != nil {
		return 0, fmt.Errorf("reading clip %s: %w", r.f.Name(), err)
	}
	for i := 0; i < read; i++ {
		dst[i] = float32(r.buf.Data[i]) * r.scale
	}
	r.pos += int64(read)
	return read, nil
}

func (r *wavReader) Tell() int64 {
	return r.pos
}

func (r *wavReader) Close() error {
	return r.f.Close()
}
