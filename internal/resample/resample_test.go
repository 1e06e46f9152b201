package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm16(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		put16(b, i, s)
	}
	return b
}

func TestEqualRateReturnsInputUnchanged(t *testing.T) {
	in := pcm16([]int16{1, 2, 3, 4})
	out, err := PCM16(in, 16000, 16000)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	// Must be the same backing array, not a copy, per spec.md §4.2.
	if len(in) > 0 {
		in[0] = 99
		assert.Equal(t, int16(99), get16(out, 0))
	}
}

func TestUpsampleDoublesSampleCount(t *testing.T) {
	in := pcm16([]int16{0, 1000, 2000, 3000})
	out, err := PCM16(in, 24000, 48000)
	require.NoError(t, err)
	assert.Equal(t, 8, len(out)/2)
}

func TestDownsampleHalvesSampleCount(t *testing.T) {
	in := pcm16(make([]int16, 960))
	out, err := PCM16(in, 48000, 24000)
	require.NoError(t, err)
	assert.Equal(t, 480, len(out)/2)
}

func TestRejectsUnlistedRate(t *testing.T) {
	in := pcm16([]int16{1, 2})
	_, err := PCM16(in, 44100, 16000)
	assert.Error(t, err)
}

func TestLinearInterpolationMidpoint(t *testing.T) {
	// 2 input samples at 8000Hz -> upsample to 16000Hz doubles the rate;
	// the interpolated value between 0 and 1000 should be close to 500.
	in := pcm16([]int16{0, 1000})
	out, err := PCM16(in, 8000, 16000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out)/2, 3)
	mid := get16(out, 1)
	assert.InDelta(t, 500, mid, 50)
}
