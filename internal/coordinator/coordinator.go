// Package coordinator implements the LoadCoordinator spec.md §4.7
// describes: a single logical, persistent, single-writer entity tracking
// per-worker load for the autoscale routing strategy.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vstream/relay/internal/errs"
	"github.com/vstream/relay/internal/launcher"
	"github.com/vstream/relay/internal/logging"
	"github.com/vstream/relay/internal/metrics"
)

const stateKey = "state"

// WorkerRecord is the coordinator's view of one backend worker.
type WorkerRecord struct {
	ID                string `json:"id"`
	ActiveConnections int    `json:"activeConnections"`
	LastActivityMs    int64  `json:"lastActivity"`
	CreatedAtMs       int64  `json:"createdAt"`
	ContainerID       string `json:"containerId,omitempty"`
}

// Coordinator assigns client sessions to workers and scales the worker
// fleet, per spec.md §4.7's autoscale algorithm.
type Coordinator struct {
	mu sync.Mutex

	workers         map[string]*WorkerRecord
	sessionToWorker map[string]string
	nextContainerID int

	store     Store
	launch    launcher.Launcher
	log       logging.Logger
	now       func() time.Time

	minContainers        int
	maxConnPerContainer  int
	scaleDownIdleTime    time.Duration
}

// New constructs a Coordinator. Call Bootstrap before first use.
func New(store Store, launch launcher.Launcher, log logging.Logger, minContainers, maxConnPerContainer int, scaleDownIdleTime time.Duration) *Coordinator {
	if log == nil {
		log = logging.Noop()
	}
	return &Coordinator{
		workers:             make(map[string]*WorkerRecord),
		sessionToWorker:     make(map[string]string),
		store:               store,
		launch:              launch,
		log:                 log,
		now:                 time.Now,
		minContainers:       minContainers,
		maxConnPerContainer: maxConnPerContainer,
		scaleDownIdleTime:   scaleDownIdleTime,
	}
}

// persistedState is the wire shape of spec.md §6's single persisted key:
// { containers: [[id, record]], sessionToContainer: [[session, worker]], nextContainerId }.
type persistedState struct {
	Containers          []workerPair  `json:"containers"`
	SessionToContainer  []sessionPair `json:"sessionToContainer"`
	NextContainerID     int           `json:"nextContainerId"`
}

type workerPair struct {
	ID     string
	Record *WorkerRecord
}

func (p workerPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.ID, p.Record})
}

func (p *workerPair) UnmarshalJSON(data []byte) error {
	var arr [2]json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if err := json.Unmarshal(arr[0], &p.ID); err != nil {
		return err
	}
	p.Record = &WorkerRecord{}
	return json.Unmarshal(arr[1], p.Record)
}

type sessionPair struct {
	Session string
	Worker  string
}

func (p sessionPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Session, p.Worker})
}

func (p *sessionPair) UnmarshalJSON(data []byte) error {
	var arr [2]string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	p.Session, p.Worker = arr[0], arr[1]
	return nil
}

// Bootstrap loads persisted state, or, if none exists, allocates
// minContainers empty workers per spec.md §4.7.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok, err := c.store.Get(ctx, stateKey)
	if err != nil {
		return errs.New(errs.KindPersistence, "coordinator", "load coordinator state", err)
	}
	if ok {
		var ps persistedState
		if err := json.Unmarshal(raw, &ps); err != nil {
			return errs.New(errs.KindPersistence, "coordinator", "decode coordinator state", err)
		}
		for _, wp := range ps.Containers {
			c.workers[wp.ID] = wp.Record
		}
		for _, sp := range ps.SessionToContainer {
			c.sessionToWorker[sp.Session] = sp.Worker
		}
		c.nextContainerID = ps.NextContainerID
		metrics.WorkerCount.Set(float64(len(c.workers)))
		return nil
	}

	for len(c.workers) < c.minContainers {
		if _, err := c.createWorkerLocked(ctx); err != nil {
			return err
		}
	}
	return c.persistLocked(ctx)
}

// Assign implements spec.md §4.7's assign(sessionId) -> workerId.
func (c *Coordinator) Assign(ctx context.Context, sessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if workerID, ok := c.sessionToWorker[sessionID]; ok {
		if _, exists := c.workers[workerID]; exists {
			return workerID, nil
		}
	}

	best := c.lowestLoadLocked()
	if best == nil || best.ActiveConnections >= c.maxConnPerContainer {
		w, err := c.createWorkerLocked(ctx)
		if err != nil {
			return "", err
		}
		best = w
	}

	if err := c.persistLocked(ctx); err != nil {
		return "", err
	}
	return best.ID, nil
}

// ConnectionOpened implements spec.md §4.7's connectionOpened.
func (c *Coordinator) ConnectionOpened(ctx context.Context, sessionID, workerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.workers[workerID]
	if !ok {
		return errs.New(errs.KindPersistence, workerID, "connectionOpened: unknown worker", nil)
	}
	rec.ActiveConnections++
	rec.LastActivityMs = c.nowMs()
	c.sessionToWorker[sessionID] = workerID

	metrics.WorkerActiveConnections.WithLabelValues(workerID).Set(float64(rec.ActiveConnections))
	return c.persistLocked(ctx)
}

// ConnectionClosed implements spec.md §4.7's connectionClosed, including
// the scale-down sweep it triggers.
func (c *Coordinator) ConnectionClosed(ctx context.Context, sessionID, workerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.workers[workerID]; ok {
		rec.ActiveConnections--
		if rec.ActiveConnections < 0 {
			rec.ActiveConnections = 0
		}
		rec.LastActivityMs = c.nowMs()
		metrics.WorkerActiveConnections.WithLabelValues(workerID).Set(float64(rec.ActiveConnections))
	}
	delete(c.sessionToWorker, sessionID)

	c.scaleDownLocked(ctx)

	return c.persistLocked(ctx)
}

// SweepIdle runs the same idle scale-down logic as connectionClosed,
// independent of any particular session's close — a safety net for
// workers that go idle without ever seeing a connectionClosed call.
func (c *Coordinator) SweepIdle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scaleDownLocked(ctx)
	return c.persistLocked(ctx)
}

// Snapshot returns a defensive copy of the current worker set, for tests
// and observability.
func (c *Coordinator) Snapshot() map[string]WorkerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]WorkerRecord, len(c.workers))
	for id, rec := range c.workers {
		out[id] = *rec
	}
	return out
}

// SessionCount returns |sessionToWorker|, for invariant tests
// (sum(activeConnections) == |mapping|).
func (c *Coordinator) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessionToWorker)
}

func (c *Coordinator) lowestLoadLocked() *WorkerRecord {
	var best *WorkerRecord
	for _, rec := range c.workers {
		if best == nil || rec.ActiveConnections < best.ActiveConnections {
			best = rec
		}
	}
	return best
}

func (c *Coordinator) createWorkerLocked(ctx context.Context) (*WorkerRecord, error) {
	c.nextContainerID++
	id := fmt.Sprintf("worker-%d", c.nextContainerID)

	containerID, err := c.launch.StartWorker(ctx)
	if err != nil {
		return nil, errs.New(errs.KindWorkerStartTimeout, id, "start worker", err)
	}

	rec := &WorkerRecord{
		ID:             id,
		CreatedAtMs:    c.nowMs(),
		LastActivityMs: c.nowMs(),
		ContainerID:    containerID,
	}
	c.workers[id] = rec
	metrics.WorkerCount.Set(float64(len(c.workers)))
	c.log.Info("worker created", zap.String("id", id), zap.String("containerId", containerID))
	return rec, nil
}

func (c *Coordinator) scaleDownLocked(ctx context.Context) {
	if c.scaleDownIdleTime <= 0 {
		return
	}
	now := c.nowMs()
	for len(c.workers) > c.minContainers {
		var victim *WorkerRecord
		for _, rec := range c.workers {
			if rec.ActiveConnections != 0 {
				continue
			}
			if time.Duration(now-rec.LastActivityMs)*time.Millisecond <= c.scaleDownIdleTime {
				continue
			}
			if victim == nil || rec.LastActivityMs < victim.LastActivityMs {
				victim = rec
			}
		}
		if victim == nil {
			return
		}
		if err := c.launch.StopWorker(ctx, victim.ContainerID); err != nil {
			c.log.Warn("stop worker failed", zap.String("id", victim.ID), zap.Error(err))
			return
		}
		delete(c.workers, victim.ID)
		metrics.WorkerCount.Set(float64(len(c.workers)))
		metrics.WorkerActiveConnections.DeleteLabelValues(victim.ID)
		c.log.Info("worker scaled down", zap.String("id", victim.ID))
	}
}

func (c *Coordinator) persistLocked(ctx context.Context) error {
	ps := persistedState{NextContainerID: c.nextContainerID}
	for id, rec := range c.workers {
		ps.Containers = append(ps.Containers, workerPair{ID: id, Record: rec})
	}
	for session, worker := range c.sessionToWorker {
		ps.SessionToContainer = append(ps.SessionToContainer, sessionPair{Session: session, Worker: worker})
	}

	raw, err := json.Marshal(ps)
	if err != nil {
		return errs.New(errs.KindPersistence, "coordinator", "encode coordinator state", err)
	}
	if err := c.store.Put(ctx, stateKey, raw); err != nil {
		return errs.New(errs.KindPersistence, "coordinator", "persist coordinator state", err)
	}
	return nil
}

func (c *Coordinator) nowMs() int64 {
	return c.now().UnixMilli()
}
