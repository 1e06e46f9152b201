package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstream/relay/internal/codec"
)

func TestEncoderAccumulatesUntilFullFrame(t *testing.T) {
	const rate = 24000
	enc, err := NewEncoder(rate, codec.DefaultEncoderConfig())
	require.NoError(t, err)
	defer enc.Close()

	frameBytes := enc.FrameSizeSamples() * 2

	// Half a frame: no packets yet.
	half := make([]byte, frameBytes/2)
	packets, err := enc.EncodeFrame(half)
	require.NoError(t, err)
	assert.Empty(t, packets)

	// The other half completes exactly one frame.
	packets, err = enc.EncodeFrame(half)
	require.NoError(t, err)
	assert.Len(t, packets, 1)
}

func TestEncoderEmitsMultipleFramesAndKeepsTail(t *testing.T) {
	const rate = 24000
	enc, err := NewEncoder(rate, codec.DefaultEncoderConfig())
	require.NoError(t, err)
	defer enc.Close()

	frameBytes := enc.FrameSizeSamples() * 2
	data := make([]byte, frameBytes*2+frameBytes/3)

	packets, err := enc.EncodeFrame(data)
	require.NoError(t, err)
	assert.Len(t, packets, 2)
	assert.Equal(t, frameBytes/3, len(enc.buffer))
}
