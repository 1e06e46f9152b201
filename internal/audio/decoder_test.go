package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassThroughRoundTrip(t *testing.T) {
	d := NewPassThroughDecoder()
	frame := []byte{1, 2, 3, 4}
	out, err := d.DecodeChunk(frame, 1, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, KindNormal, out[0].Kind)
	assert.Equal(t, frame, out[0].PCM)
}

func TestGapTrackerDiscardsOutOfOrder(t *testing.T) {
	d := NewPassThroughDecoder()
	_, err := d.DecodeChunk([]byte{0, 0}, 1, 0)
	require.NoError(t, err)
	_, err = d.DecodeChunk([]byte{0, 0}, 2, 960)
	require.NoError(t, err)

	out, err := d.DecodeChunk([]byte{0, 0}, 2, 960) // replay
	require.NoError(t, err)
	assert.True(t, IsDiscard(out))
	assert.Equal(t, uint32(2), d.gap.lastChunkNo)
}

func TestGapTrackerLastChunkNoTracksMax(t *testing.T) {
	d := NewPassThroughDecoder()
	seq := []uint32{1, 3, 2, 4}
	for _, n := range seq {
		_, _ = d.DecodeChunk([]byte{0, 0}, n, 0)
	}
	last, have := d.gap.LastChunkNo()
	require.True(t, have)
	assert.Equal(t, uint32(4), last)
}

func TestL16RejectsUnlistedRate(t *testing.T) {
	_, err := NewL16Decoder(44100, 16000)
	assert.Error(t, err)
}

func TestL16EqualRatesByteIdentical(t *testing.T) {
	d, err := NewL16Decoder(16000, 16000)
	require.NoError(t, err)
	frame := []byte{10, 20, 30, 40}
	out, err := d.DecodeChunk(frame, 1, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, frame, out[0].PCM)
}

func TestNoChunkInfoSkipsGapLogic(t *testing.T) {
	d := NewPassThroughDecoder()
	_, err := d.DecodeChunk([]byte{0, 0}, NoChunkInfo, NoChunkInfo)
	require.NoError(t, err)
	_, have := d.gap.LastChunkNo()
	assert.False(t, have)
}
