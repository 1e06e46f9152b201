// Package launcher is the container-runtime boundary spec.md §1 calls out
// as an external collaborator: starting, stopping, and health-checking the
// backend worker processes the autoscale strategy creates. It is deliberately
// thin — the proxy's core never depends on container semantics beyond
// start/stop/ping.
package launcher

import "context"

// Launcher starts and stops backend worker containers.
type Launcher interface {
	// StartWorker launches a new worker container and returns its id.
	StartWorker(ctx context.Context) (containerID string, err error)
	// StopWorker stops and removes a worker container.
	StopWorker(ctx context.Context, containerID string) error
	// Ping reports whether a worker container is still running.
	Ping(ctx context.Context, containerID string) (alive bool, err error)
}

// Noop is a Launcher that does nothing; workers it "starts" have no
// backing container. Used in tests and for routing modes that never
// create workers (session/shared/pool).
type Noop struct{}

func (Noop) StartWorker(ctx context.Context) (string, error) { return "", nil }
func (Noop) StopWorker(ctx context.Context, containerID string) error { return nil }
func (Noop) Ping(ctx context.Context, containerID string) (bool, error) { return true, nil }
