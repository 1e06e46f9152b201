package audio

import (
	"encoding/base64"

	"github.com/vstream/relay/internal/codec"
)

// Encoder accumulates PCM16 and emits fixed-duration Opus frames, per
// spec.md §4.4. The tail that doesn't fill a full frame persists across
// calls; there is no explicit flush.
type Encoder struct {
	codec         *codec.Codec
	sampleRate    int
	frameSizeBytes int
	buffer        []byte
}

// NewEncoder constructs an Opus AudioEncoder at sampleRate, mono, with
// 20ms frames (frameSize = sampleRate/50 samples).
func NewEncoder(sampleRate int, cfg codec.EncoderConfig) (*Encoder, error) {
	c, err := codec.NewEncoder(sampleRate, 1, cfg)
	if err != nil {
		return nil, err
	}
	frameSizeSamples := sampleRate / 50
	return &Encoder{
		codec:          c,
		sampleRate:     sampleRate,
		frameSizeBytes: frameSizeSamples * 2,
	}, nil
}

// EncodeFrame appends pcm to the internal buffer and emits every complete
// 20ms frame now available, in order.
func (e *Encoder) EncodeFrame(pcm []byte) ([][]byte, error) {
	e.buffer = append(e.buffer, pcm...)

	var packets [][]byte
	for len(e.buffer) >= e.frameSizeBytes {
		frame := e.buffer[:e.frameSizeBytes]
		e.buffer = e.buffer[e.frameSizeBytes:]

		packet, err := e.codec.EncodeFrame(frame)
		if err != nil {
			return packets, err
		}
		packets = append(packets, packet)
	}
	return packets, nil
}

// EncodeFrameBase64 is a convenience wrapper accepting a base64-encoded
// PCM string, per spec.md §4.4's "either a PCM16 array or a base64-encoded
// PCM string" input contract.
func (e *Encoder) EncodeFrameBase64(pcmB64 string) ([][]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(pcmB64)
	if err != nil {
		return nil, err
	}
	return e.EncodeFrame(pcm)
}

// FrameSizeSamples returns the encoder's frame size in samples.
func (e *Encoder) FrameSizeSamples() int { return e.frameSizeBytes / 2 }

// Close releases the underlying codec context.
func (e *Encoder) Close() { e.codec.Close() }
