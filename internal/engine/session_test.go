package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFadeCurve(t *testing.T) {
	t.Run("spans the fade window at the clip sample rate", func(t *testing.T) {
		curve := fadeCurve(2*time.Second, 16000)
		assert.Len(t, curve, 32000)
	})

	t.Run("starts at unity and ends at exactly zero", func(t *testing.T) {
		curve := fadeCurve(time.Second, 8000)
		require.NotEmpty(t, curve)
		assert.Equal(t, float32(1.0), curve[0])
		assert.Equal(t, float32(0.0), curve[len(curve)-1])
	})

	t.Run("is monotonically non-increasing", func(t *testing.T) {
		curve := fadeCurve(time.Second, 8000)
		for i := 1; i < len(curve); i++ {
			require.LessOrEqual(t, curve[i], curve[i-1], "coefficient %d rises", i)
		}
	})

	t.Run("zero duration yields no curve", func(t *testing.T) {
		assert.Empty(t, fadeCurve(0, 16000))
	})

	t.Run("single frame window is silent", func(t *testing.T) {
		curve := fadeCurve(time.Millisecond, 1000)
		require.Len(t, curve, 1)
		assert.Equal(t, float32(0.0), curve[0])
	})
}

func TestSessionIdentitiesIncrease(t *testing.T) {
	a := testSession("a", time.Second)
	b := testSession("b", time.Second)
	assert.Greater(t, b.id, a.id)
}

func TestSessionFinishReleasesWaiters(t *testing.T) {
	s := testSession("a", time.Second)
	require.True(t, s.alive.Load())

	s.finish(stateFinished)

	assert.False(t, s.alive.Load())
	assert.Equal(t, stateFinished, s.getState())
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed after finish")
	}
}
