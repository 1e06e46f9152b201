package audio

// gapTracker implements the gap-detection policy shared by all three
// AudioDecoder variants (spec.md §4.3):
//
//  1. chunkNo == NoChunkInfo or no previous chunk observed -> skip gap logic.
//  2. delta = chunkNo - lastChunkNo; delta <= 0 -> discard (out-of-order/replay).
//  3. otherwise record chunkNo as the new lastChunkNo.
type gapTracker struct {
	have        bool
	lastChunkNo uint32
	// lastTimestamp/lastFrameSamples are only meaningful to the Opus
	// variant's concealment math. observe never touches them: OpusDecoder
	// sets them after each successful decode, so a chunk whose decode
	// fails advances lastChunkNo but not these.
	lastTimestamp   uint32
	haveTimestamp   bool
	lastFrameSamples int
}

// gapResult is the outcome of observing one chunk.
type gapResult struct {
	Discard    bool
	Skipped    bool // gap logic was skipped (no tracking info / first chunk)
	LostFrames int  // delta-1, only meaningful when !Discard && !Skipped
}

// observe applies the shared policy and, if accepted, updates lastChunkNo.
func (g *gapTracker) observe(chunkNo uint32) gapResult {
	if chunkNo == NoChunkInfo {
		return gapResult{Skipped: true}
	}
	if !g.have {
		g.have = true
		g.lastChunkNo = chunkNo
		return gapResult{Skipped: true}
	}

	delta := int64(chunkNo) - int64(g.lastChunkNo)
	if delta <= 0 {
		return gapResult{Discard: true}
	}

	g.lastChunkNo = chunkNo
	return gapResult{LostFrames: int(delta - 1)}
}

func (g *gapTracker) reset() {
	*g = gapTracker{}
}

// LastChunkNo exposes the tracker's state for tests asserting spec.md §8's
// "lastChunkNo equals the maximum chunkNo accepted" invariant.
func (g *gapTracker) LastChunkNo() (uint32, bool) {
	return g.lastChunkNo, g.have
}
