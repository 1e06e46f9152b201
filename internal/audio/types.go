// Package audio implements the uniform AudioDecoder contract (spec.md
// §4.3) and the Opus AudioEncoder (spec.md §4.4), shared across decoder
// variants via a common gap-detection helper.
package audio

// NoChunkInfo is the sentinel marking "tracking info unavailable" for a
// Chunk's sequence number or timestamp. When the sequence number equals
// it, gap detection is skipped for that chunk; when only the timestamp
// equals it, gap detection still runs and Opus concealment is bounded by
// the sequence gap and the 120ms cap alone.
const NoChunkInfo uint32 = 0xFFFFFFFF

// RTPClockHz is the fixed RTP-style timestamp clock, independent of the
// negotiated output sample rate (spec.md §3).
const RTPClockHz = 48000

// Kind distinguishes real-decode output from PLC/FEC concealment output.
type Kind string

const (
	KindNormal      Kind = "normal"
	KindConcealment Kind = "concealment"
)

// Chunk is one transport-layer unit: an encoded frame plus its tracking info.
type Chunk struct {
	Payload   []byte
	ChunkNo   uint32
	Timestamp uint32
}

// DecodedAudio is the output of one decode call.
type DecodedAudio struct {
	PCM            []byte
	SamplesDecoded int
	Errors         []error
	Kind           Kind
}

// Encoding enumerates the transport encodings spec.md §3 allows.
type Encoding string

const (
	EncodingOpus    Encoding = "opus"
	EncodingOggOpus Encoding = "ogg-opus"
	EncodingL16     Encoding = "L16"
)

// Format describes one side of a media stream.
type Format struct {
	Encoding   Encoding
	SampleRate int
	Channels   int // always 1 in the core path
}

// discardSentinel is returned by decodeChunk for NULL_DISCARD per spec.md §4.3.
var discardSentinel = []DecodedAudio(nil)

// NullDiscard is the NULL_DISCARD return value: no audio produced, the
// chunk was out-of-order or replayed.
func NullDiscard() []DecodedAudio { return discardSentinel }

// IsDiscard reports whether a decodeChunk result is the NULL_DISCARD sentinel.
func IsDiscard(result []DecodedAudio) bool { return result == nil }
