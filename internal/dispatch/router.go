// Package dispatch implements the DispatchRouter spec.md §4.7 describes:
// routing a new client session to a backend worker instance by one of
// four strategies.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/vstream/relay/internal/coordinator"
)

// Strategy is one of the four routing modes spec.md §6 enumerates as
// ROUTING_MODE.
type Strategy string

const (
	StrategySession   Strategy = "session"
	StrategyShared    Strategy = "shared"
	StrategyPool      Strategy = "pool"
	StrategyAutoscale Strategy = "autoscale"
)

const sharedWorkerID = "shared"

// Router picks a worker instance id for each new client session.
type Router struct {
	strategy    Strategy
	poolSize    int
	coordinator *coordinator.Coordinator
}

// New constructs a Router. coord may be nil unless strategy is
// StrategyAutoscale.
func New(strategy Strategy, poolSize int, coord *coordinator.Coordinator) *Router {
	return &Router{strategy: strategy, poolSize: poolSize, coordinator: coord}
}

// Assign returns the worker instance id a session with the given
// sessionId (possibly empty) should be routed to.
func (r *Router) Assign(ctx context.Context, sessionID string) (string, error) {
	switch r.strategy {
	case StrategySession:
		return sessionID, nil
	case StrategyShared:
		return sharedWorkerID, nil
	case StrategyPool:
		return r.poolWorker(sessionID), nil
	case StrategyAutoscale:
		if r.coordinator == nil {
			return "", fmt.Errorf("dispatch: autoscale strategy requires a coordinator")
		}
		return r.coordinator.Assign(ctx, sessionID)
	default:
		return "", fmt.Errorf("dispatch: unknown routing strategy %q", r.strategy)
	}
}

func (r *Router) poolWorker(sessionID string) string {
	if sessionID == "" {
		return fmt.Sprintf("pool-%d", rand.Intn(r.poolSize))
	}
	return fmt.Sprintf("pool-%d", PoolHash(sessionID)%uint32(r.poolSize))
}

// PoolHash is the 32-bit multiply-shift hash spec.md §4.7 specifies
// verbatim for the pool strategy: h = ((h<<5) - h + codeUnit(c)) & 0xFFFFFFFF,
// one UTF-16 code unit at a time. It is implemented as plain arithmetic
// rather than delegated to a hashing library because spec.md pins the
// exact function — any general-purpose hash (fnv, maphash) would route
// sessions to different pool members than this one.
func PoolHash(sessionID string) uint32 {
	var h uint32
	for _, r := range sessionID {
		for _, unit := range utf16CodeUnits(r) {
			h = (h<<5 - h + uint32(unit)) & 0xFFFFFFFF
		}
	}
	return h
}

// utf16CodeUnits returns the UTF-16 code unit(s) encoding a rune, matching
// JavaScript's String.charCodeAt iteration that spec.md's codeUnit(c)
// implies (a surrogate pair for runes outside the BMP).
func utf16CodeUnits(r rune) []uint16 {
	if r < 0x10000 {
		return []uint16{uint16(r)}
	}
	r -= 0x10000
	return []uint16{
		uint16(0xD800 + (r >> 10)),
		uint16(0xDC00 + (r & 0x3FF)),
	}
}
