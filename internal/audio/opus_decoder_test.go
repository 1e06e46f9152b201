package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstream/relay/internal/codec"
)

// encode20msSilence returns a valid 20ms Opus packet at the given sample rate.
func encode20msSilence(t *testing.T, sampleRate int) []byte {
	t.Helper()
	enc, err := codec.NewEncoder(sampleRate, 1, codec.DefaultEncoderConfig())
	require.NoError(t, err)
	defer enc.Close()

	frameSize := sampleRate / 50 // 20ms
	pcm := make([]byte, frameSize*2)
	out, err := enc.EncodeFrame(pcm)
	require.NoError(t, err)
	return out
}

func TestOpusDecoderTwoFrameLoss(t *testing.T) {
	const rate = 24000
	d, err := NewOpusDecoder(rate)
	require.NoError(t, err)
	defer d.Free()

	frame := encode20msSilence(t, rate)

	out1, err := d.DecodeChunk(frame, 1, 0)
	require.NoError(t, err)
	require.Len(t, out1, 1)

	out2, err := d.DecodeChunk(frame, 2, 960)
	require.NoError(t, err)
	require.Len(t, out2, 1)

	// Chunk 5 arrives after a gap of 2 lost frames (3,4).
	out5, err := d.DecodeChunk(frame, 5, 960*4)
	require.NoError(t, err)
	require.Len(t, out5, 2)
	assert.Equal(t, KindConcealment, out5[0].Kind)
	assert.Equal(t, KindNormal, out5[1].Kind)

	maxSamples := maxConcealMillis * rate / 1000
	assert.LessOrEqual(t, out5[0].SamplesDecoded, maxSamples)
}

func TestOpusDecoderReplayDiscards(t *testing.T) {
	const rate = 24000
	d, err := NewOpusDecoder(rate)
	require.NoError(t, err)
	defer d.Free()

	frame := encode20msSilence(t, rate)
	_, err = d.DecodeChunk(frame, 1, 0)
	require.NoError(t, err)
	_, err = d.DecodeChunk(frame, 2, 960)
	require.NoError(t, err)

	out, err := d.DecodeChunk(frame, 2, 960)
	require.NoError(t, err)
	assert.True(t, IsDiscard(out))

	last, _ := d.gap.LastChunkNo()
	assert.Equal(t, uint32(2), last)
}

func TestOpusDecoderOutOfOrderThenRecovery(t *testing.T) {
	const rate = 24000
	d, err := NewOpusDecoder(rate)
	require.NoError(t, err)
	defer d.Free()

	frame := encode20msSilence(t, rate)

	out1, err := d.DecodeChunk(frame, 1, 0)
	require.NoError(t, err)
	require.Len(t, out1, 1)

	out3, err := d.DecodeChunk(frame, 3, 960*2)
	require.NoError(t, err)
	require.Len(t, out3, 2) // concealment + normal, gap of 1

	outOOO, err := d.DecodeChunk(frame, 2, 960)
	require.NoError(t, err)
	assert.True(t, IsDiscard(outOOO))

	out4, err := d.DecodeChunk(frame, 4, 960*3)
	require.NoError(t, err)
	require.Len(t, out4, 1) // no gap, chunk 4 follows chunk 3
}
