// Package codec wraps the native Opus library (gopkg.in/hraban/opus.v2,
// the same binding the teacher repo's OpusDecoder/OpusEncoder use) behind
// the thin decode/conceal/encode contract spec.md §4.1 describes. The
// native context is an opaque foreign component with a fixed ABI; this
// package owns its lifetime explicitly and pre-allocates the PCM arena it
// decodes into.
package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// Application selects the Opus encoder's tuning target.
type Application string

const (
	ApplicationVoIP             Application = "voip"
	ApplicationAudio            Application = "audio"
	ApplicationRestrictedLowdelay Application = "restricted_lowdelay"
)

func (a Application) native() opus.Application {
	switch a {
	case ApplicationAudio:
		return opus.AppAudio
	case ApplicationRestrictedLowdelay:
		return opus.AppRestrictedLowdelay
	default:
		return opus.AppVoIP
	}
}

// EncoderConfig enumerates the encoder's tunables, per spec.md §4.1.
type EncoderConfig struct {
	Application Application
	Bitrate     int // default 64000
	Complexity  int // [0,10], default 5
}

// DefaultEncoderConfig returns spec.md's defaults.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{Application: ApplicationVoIP, Bitrate: 64000, Complexity: 5}
}

const (
	maxConcealMillis = 120
	// inputArenaBytes is ~256kbps over 120ms of input. No input arena is
	// allocated from it: packets are decoded straight from the caller's slice.
	inputArenaBytes = (256_000 / 8) * maxConcealMillis / 1000
	// encoderOutputBytes is the fixed per-frame Opus encoder output size.
	encoderOutputBytes = 4000
)

// DecodeError records one failed decodeFrame/conceal call with the
// counters spec.md §4.1 requires: frame number and cumulative input
// bytes/output samples observed at the time of failure.
type DecodeError struct {
	FrameNumber       uint64
	CumulativeInput   uint64
	CumulativeOutput  uint64
	Cause             error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("opus decode failed at frame %d (cumInput=%d cumOutput=%d): %v",
		e.FrameNumber, e.CumulativeInput, e.CumulativeOutput, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// Codec owns either one Opus decoder context (NewDecoder) or one Opus
// encoder context (NewEncoder) for a single sample rate/channel
// configuration. A decoding Codec pre-allocates its output arena; there
// is no input arena. A Codec belongs to exactly one caller (one
// ProviderSession's decoder or encoder) and must be released via Close
// on every exit path.
type Codec struct {
	sampleRate int
	channels   int

	dec *opus.Decoder
	enc *opus.Encoder

	// outArena is the output PCM16 arena, sized for 120ms @ sampleRate.
	outArena []int16

	frameCount      uint64
	cumulativeInput uint64
	cumulativeOut   uint64
}

// NewDecoder constructs a Codec with only decode/conceal capability.
func NewDecoder(sampleRate, channels int) (*Codec, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	maxSamples := sampleRate * maxConcealMillis / 1000 * channels
	return &Codec{
		sampleRate: sampleRate,
		channels:   channels,
		dec:        dec,
		outArena:   make([]int16, maxSamples),
	}, nil
}

// NewEncoder constructs a Codec with only encode capability.
func NewEncoder(sampleRate, channels int, cfg EncoderConfig) (*Codec, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, cfg.Application.native())
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = 64000
	}
	if err := enc.SetBitrate(cfg.Bitrate); err != nil {
		return nil, fmt.Errorf("set bitrate: %w", err)
	}
	if cfg.Complexity > 0 {
		if err := enc.SetComplexity(cfg.Complexity); err != nil {
			return nil, fmt.Errorf("set complexity: %w", err)
		}
	}
	return &Codec{
		sampleRate: sampleRate,
		channels:   channels,
		enc:        enc,
	}, nil
}

// SampleRate returns the codec's configured output/input sample rate.
func (c *Codec) SampleRate() int { return c.sampleRate }

// Channels returns the codec's channel count (always 1 in the core path).
func (c *Codec) Channels() int { return c.channels }

// pcm16ToBytes converts decoded int16 samples into little-endian PCM16 bytes.
func pcm16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func bytesToPCM16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}

// DecodeFrame decodes one compressed Opus packet. On native decode
// failure it returns zero samples and a *DecodeError; the codec's
// monotone counters still advance.
func (c *Codec) DecodeFrame(input []byte) (pcm []byte, samplesDecoded int, decErr error) {
	c.frameCount++
	c.cumulativeInput += uint64(len(input))

	n, err := c.dec.Decode(input, c.outArena)
	if err != nil {
		return nil, 0, &DecodeError{
			FrameNumber:      c.frameCount,
			CumulativeInput:  c.cumulativeInput,
			CumulativeOutput: c.cumulativeOut,
			Cause:            err,
		}
	}

	samples := n * c.channels
	c.cumulativeOut += uint64(samples)
	return pcm16ToBytes(c.outArena[:samples]), samples, nil
}

// Conceal performs FEC decode of input for the missing samples (when
// input is non-nil) or pure PLC (when input is nil). samplesToConceal
// is clamped to 120ms at the codec's sample rate.
func (c *Codec) Conceal(input []byte, samplesToConceal int) (pcm []byte, samplesDecoded int, concealErr error) {
	maxSamples := c.sampleRate * maxConcealMillis / 1000
	if samplesToConceal > maxSamples {
		samplesToConceal = maxSamples
	}
	if samplesToConceal <= 0 {
		return nil, 0, nil
	}

	c.frameCount++
	target := c.outArena[:samplesToConceal*c.channels]

	var err error
	if input != nil {
		err = c.dec.DecodeFEC(input, target)
	} else {
		err = c.dec.DecodePLC(target)
	}
	if err != nil {
		return nil, 0, &DecodeError{
			FrameNumber:      c.frameCount,
			CumulativeInput:  c.cumulativeInput,
			CumulativeOutput: c.cumulativeOut,
			Cause:            err,
		}
	}

	samples := samplesToConceal * c.channels
	c.cumulativeOut += uint64(samples)
	return pcm16ToBytes(target[:samples]), samples, nil
}

// EncodeFrame encodes exactly one frame's worth of PCM16 bytes (the
// caller slices frames of frameSizeBytes before calling). Returns the
// compressed packet.
func (c *Codec) EncodeFrame(pcm []byte) ([]byte, error) {
	samples := bytesToPCM16(pcm)
	out := make([]byte, encoderOutputBytes)
	n, err := c.enc.Encode(samples, out)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return out[:n], nil
}

// Close releases the native context. Idempotent: the hraban/opus binding
// relies on Go's GC for the underlying C state, so Close here only
// drops this Codec's Go-side references, making a double-Close safe.
func (c *Codec) Close() {
	c.dec = nil
	c.enc = nil
	c.outArena = nil
}
