package audio

import (
	"fmt"

	"github.com/vstream/relay/internal/codec"
	"github.com/vstream/relay/internal/resample"
)

// Decoder is the uniform contract spec.md §4.3 gives every variant.
type Decoder interface {
	// Ready is closed once asynchronous initialization (if any) completes.
	Ready() <-chan struct{}
	// DecodeChunk decodes one transport chunk. A nil return (distinguishable
	// via audio.IsDiscard) is the NULL_DISCARD sentinel.
	DecodeChunk(frame []byte, chunkNo, timestamp uint32) ([]DecodedAudio, error)
	Reset()
	Free()
}

// PassThroughDecoder forwards frames unchanged (no codec involved), e.g.
// when client and provider agree on the same transport encoding.
type PassThroughDecoder struct {
	gap   gapTracker
	ready chan struct{}
}

// NewPassThroughDecoder constructs a decoder that forwards frames as-is.
func NewPassThroughDecoder() *PassThroughDecoder {
	d := &PassThroughDecoder{ready: make(chan struct{})}
	close(d.ready)
	return d
}

func (d *PassThroughDecoder) Ready() <-chan struct{} { return d.ready }

func (d *PassThroughDecoder) DecodeChunk(frame []byte, chunkNo, timestamp uint32) ([]DecodedAudio, error) {
	res := d.gap.observe(chunkNo)
	if res.Discard {
		return NullDiscard(), nil
	}
	return []DecodedAudio{{PCM: frame, SamplesDecoded: len(frame) / 2, Kind: KindNormal}}, nil
}

func (d *PassThroughDecoder) Reset() { d.gap.reset() }
func (d *PassThroughDecoder) Free()  {}

// L16Decoder decodes uncompressed linear PCM16, resampling if the
// negotiated input rate differs from the provider's required output rate.
// Both rates must be in resample.Whitelist at construction time.
type L16Decoder struct {
	gap         gapTracker
	ready       chan struct{}
	sampleRateIn  int
	sampleRateOut int
}

// NewL16Decoder constructs an L16 decoder. Returns an error if either rate
// is not in resample.Whitelist, per spec.md §8's boundary requirement.
func NewL16Decoder(sampleRateIn, sampleRateOut int) (*L16Decoder, error) {
	if !resample.Allowed(sampleRateIn) {
		return nil, fmt.Errorf("L16Decoder: unsupported input rate %d", sampleRateIn)
	}
	if !resample.Allowed(sampleRateOut) {
		return nil, fmt.Errorf("L16Decoder: unsupported output rate %d", sampleRateOut)
	}
	d := &L16Decoder{ready: make(chan struct{}), sampleRateIn: sampleRateIn, sampleRateOut: sampleRateOut}
	close(d.ready)
	return d, nil
}

func (d *L16Decoder) Ready() <-chan struct{} { return d.ready }

func (d *L16Decoder) DecodeChunk(frame []byte, chunkNo, timestamp uint32) ([]DecodedAudio, error) {
	res := d.gap.observe(chunkNo)
	if res.Discard {
		return NullDiscard(), nil
	}

	pcm, err := resample.PCM16(frame, d.sampleRateIn, d.sampleRateOut)
	if err != nil {
		return nil, err
	}
	return []DecodedAudio{{PCM: pcm, SamplesDecoded: len(pcm) / 2, Kind: KindNormal}}, nil
}

func (d *L16Decoder) Reset() { d.gap.reset() }
func (d *L16Decoder) Free()  {}

// OpusDecoder decodes Opus frames, additionally performing PLC/FEC
// concealment across sequence gaps per spec.md §4.3.
type OpusDecoder struct {
	gap   gapTracker
	ready chan struct{}

	codec          *codec.Codec
	outputSampleRate int
}

// NewOpusDecoder constructs an Opus decoder targeting outputSampleRate.
func NewOpusDecoder(outputSampleRate int) (*OpusDecoder, error) {
	c, err := codec.NewDecoder(outputSampleRate, 1)
	if err != nil {
		return nil, err
	}
	d := &OpusDecoder{
		ready:            make(chan struct{}),
		codec:            c,
		outputSampleRate: outputSampleRate,
	}
	close(d.ready)
	return d, nil
}

func (d *OpusDecoder) Ready() <-chan struct{} { return d.ready }

// DecodeChunk implements spec.md §4.3's concealment algorithm: when a
// sequence gap is observed and a previous successful-decode frame size is
// known, conceal first (tagged KindConcealment, FEC-decoding the
// *current* frame for the missing samples), then decode frame normally
// (tagged KindNormal).
func (d *OpusDecoder) DecodeChunk(frame []byte, chunkNo, timestamp uint32) ([]DecodedAudio, error) {
	prevTimestamp := d.gap.lastTimestamp
	havePrevTimestamp := d.gap.haveTimestamp
	lastFrameSamples := d.gap.lastFrameSamples

	res := d.gap.observe(chunkNo)
	if res.Discard {
		return NullDiscard(), nil
	}

	var out []DecodedAudio

	if !res.Skipped && res.LostFrames > 0 && lastFrameSamples > 0 {
		lostInSamples := res.LostFrames * lastFrameSamples

		timestampDeltaSamples := -1 // sentinel for +inf
		if timestamp != NoChunkInfo && havePrevTimestamp {
			deltaTicks := int64(timestamp) - int64(prevTimestamp)
			if deltaTicks < 0 {
				deltaTicks = 0
			}
			timestampDeltaSamples = int(deltaTicks * int64(d.outputSampleRate) / RTPClockHz)
		}

		samplesToConceal := lostInSamples
		if timestampDeltaSamples >= 0 && timestampDeltaSamples < samplesToConceal {
			samplesToConceal = timestampDeltaSamples
		}
		maxConceal := maxConcealMillis * d.outputSampleRate / 1000
		if samplesToConceal > maxConceal {
			samplesToConceal = maxConceal
		}

		if samplesToConceal > 0 {
			pcm, n, cErr := d.codec.Conceal(frame, samplesToConceal)
			if cErr != nil {
				// Conceal failure: skip concealment output, session continues.
			} else if n > 0 {
				out = append(out, DecodedAudio{PCM: pcm, SamplesDecoded: n, Kind: KindConcealment})
			}
		}
	}

	pcm, n, dErr := d.codec.DecodeFrame(frame)
	if dErr != nil {
		return append(out, DecodedAudio{Errors: []error{dErr}, Kind: KindNormal}), nil
	}

	d.gap.lastFrameSamples = n
	d.gap.lastTimestamp = timestamp
	d.gap.haveTimestamp = timestamp != NoChunkInfo

	out = append(out, DecodedAudio{PCM: pcm, SamplesDecoded: n, Kind: KindNormal})
	return out, nil
}

func (d *OpusDecoder) Reset() { d.gap.reset() }
func (d *OpusDecoder) Free()  { d.codec.Close() }

const maxConcealMillis = 120
