package clip

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Last-Voices-Collective/lastvoices/internal/frame"
)

// writeWav writes a 16-bit wav file with the given per-channel sample
// generator. Mono unless channels says otherwise.
func writeWav(t *testing.T, path string, channels, frames, sampleRate int, sample func(i int) int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           make([]int, frames*channels),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = sample(i / channels)
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func rampSample(i int) int {
	return i%2000 - 1000
}

func sineSample(i int) int {
	return int(10000 * math.Sin(2*math.Pi*440*float64(i)/16000))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samoan.wav")
	writeWav(t, path, 1, 4096, 16000, rampSample)

	t.Run("reads geometry and preload", func(t *testing.T) {
		c, err := Load("samoan", path, 1024, 0)
		require.NoError(t, err)

		assert.Equal(t, "samoan", c.Name)
		assert.Equal(t, 16000, c.SampleRate)
		assert.Equal(t, 4096, c.TotalFrames)
		require.Len(t, c.Preloaded, 1024)
		assert.False(t, c.PreloadCoversAll())
		for i, v := range c.Preloaded {
			require.Equal(t, float32(rampSample(i))/32768, v, "preloaded frame %d", i)
		}
	})

	t.Run("preload clamps to the clip length", func(t *testing.T) {
		c, err := Load("samoan", path, 1<<20, 0)
		require.NoError(t, err)
		assert.Len(t, c.Preloaded, 4096)
		assert.True(t, c.PreloadCoversAll())
	})

	t.Run("rejects multi-channel files", func(t *testing.T) {
		stereo := filepath.Join(dir, "stereo.wav")
		writeWav(t, stereo, 2, 1024, 16000, rampSample)

		_, err := Load("stereo", stereo, 256, 0)
		assert.ErrorIs(t, err, ErrUnsupportedChannelLayout)
	})

	t.Run("rejects files that are not wav", func(t *testing.T) {
		junk := filepath.Join(dir, "junk.wav")
		require.NoError(t, os.WriteFile(junk, []byte("not audio at all"), 0o644))

		_, err := Load("junk", junk, 256, 0)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load("ghost", filepath.Join(dir, "ghost.wav"), 256, 0)
		assert.Error(t, err)
	})
}

func TestOpenRemainder_ContinuesAfterPreload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	const total = 10000
	writeWav(t, path, 1, total, 16000, rampSample)

	c, err := Load("clip", path, 3000, 0)
	require.NoError(t, err)
	require.Len(t, c.Preloaded, 3000)

	r, err := c.OpenRemainder()
	require.NoError(t, err)
	defer r.Close()

	got := append(frame.PCMFrame{}, c.Preloaded...)
	block := make(frame.PCMFrame, 512)
	for {
		n, err := r.ReadBlock(block)
		require.NoError(t, err)
		got = append(got, block[:n]...)
		if n < len(block) {
			break
		}
	}

	require.Len(t, got, total, "preload plus remainder must cover the whole clip")
	assert.Equal(t, int64(total-3000), r.Tell())
	for i, v := range got {
		require.Equal(t, float32(rampSample(i))/32768, v, "frame %d differs after the preload boundary", i)
	}
}

func TestLoad_Resampling(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	const total = 16000
	writeWav(t, path, 1, total, 16000, sineSample)

	c, err := Load("tone", path, 4000, 8000)
	require.NoError(t, err)

	assert.Equal(t, 8000, c.SampleRate)
	assert.Equal(t, total/2, c.TotalFrames)
	// The resampler carries filter latency, so lengths are approximate.
	assert.InDelta(t, 2000, len(c.Preloaded), 256)

	r, err := c.OpenRemainder()
	require.NoError(t, err)
	defer r.Close()

	delivered := len(c.Preloaded)
	var peak float32
	block := make(frame.PCMFrame, 512)
	for {
		n, err := r.ReadBlock(block)
		require.NoError(t, err)
		for _, v := range block[:n] {
			if v > peak {
				peak = v
			}
		}
		delivered += n
		if n < len(block) {
			break
		}
	}

	assert.InDelta(t, c.TotalFrames, delivered, 512, "resampled stream length far from the scaled total")
	assert.InDelta(t, 10000.0/32768, peak, 0.05, "resampling should preserve the tone's amplitude")
}

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	writeWav(t, filepath.Join(dir, "maori.wav"), 1, 2048, 16000, rampSample)
	writeWav(t, filepath.Join(dir, "samoan.wav"), 1, 2048, 16000, rampSample)
	writeWav(t, filepath.Join(dir, "broken.wav"), 2, 64, 16000, rampSample)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	t.Run("loads every valid clip and skips the rest", func(t *testing.T) {
		cat, err := LoadDirectory(dir, "wav", 512, 0, nil)
		require.NoError(t, err)

		assert.Equal(t, 2, cat.Len())
		assert.Equal(t, []string{"maori", "samoan"}, cat.Names())
		require.NotNil(t, cat.Get("maori"))
		assert.Nil(t, cat.Get("broken"))
		assert.Nil(t, cat.Get("klingon"))
	})

	t.Run("errors when nothing loads", func(t *testing.T) {
		_, err := LoadDirectory(t.TempDir(), "wav", 512, 0, nil)
		assert.Error(t, err)
	})

	t.Run("NewCatalog sorts names", func(t *testing.T) {
		cat := NewCatalog(
			New("samoan", 16000, nil, 0),
			New("maori", 16000, nil, 0),
		)
		assert.Equal(t, []string{"maori", "samoan"}, cat.Names())
	})
}
