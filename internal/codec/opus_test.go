package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	const rate = 24000
	enc, err := NewEncoder(rate, 1, DefaultEncoderConfig())
	require.NoError(t, err)
	defer enc.Close()

	dec, err := NewDecoder(rate, 1)
	require.NoError(t, err)
	defer dec.Close()

	frameSize := rate / 50
	pcm := make([]byte, frameSize*2)
	packet, err := enc.EncodeFrame(pcm)
	require.NoError(t, err)
	require.NotEmpty(t, packet)

	out, samples, err := dec.DecodeFrame(packet)
	require.NoError(t, err)
	assert.Equal(t, frameSize, samples)
	assert.Len(t, out, frameSize*2)
}

func TestDecodeFailureAdvancesCountersAndReportsFrameNumber(t *testing.T) {
	const rate = 24000
	dec, err := NewDecoder(rate, 1)
	require.NoError(t, err)
	defer dec.Close()

	// Garbage input: not a valid Opus packet.
	_, _, err = dec.DecodeFrame([]byte{0xFF, 0xFF, 0xFF})
	require.Error(t, err)

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, uint64(1), decErr.FrameNumber)
	assert.Equal(t, uint64(0), decErr.CumulativeOutput)
}

func TestConcealClampsTo120ms(t *testing.T) {
	const rate = 24000
	enc, err := NewEncoder(rate, 1, DefaultEncoderConfig())
	require.NoError(t, err)
	defer enc.Close()

	dec, err := NewDecoder(rate, 1)
	require.NoError(t, err)
	defer dec.Close()

	frameSize := rate / 50
	pcm := make([]byte, frameSize*2)
	packet, err := enc.EncodeFrame(pcm)
	require.NoError(t, err)

	// Request 240ms worth of concealment; must clamp to 120ms worth of samples.
	requested := rate * 240 / 1000
	_, n, err := dec.Conceal(packet, requested)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, rate*120/1000)
}

func TestPurePLCWithNilInput(t *testing.T) {
	const rate = 24000
	dec, err := NewDecoder(rate, 1)
	require.NoError(t, err)
	defer dec.Close()

	_, n, err := dec.Conceal(nil, rate*20/1000)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}
