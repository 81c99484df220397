package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
	"github.com/aicostmanager/aicostmanager-go/pkg/usage"
)

// Persistent buffers records in a crash-safe SQLite queue drained by one
// background worker. Rows survive process restarts; delivery is
// at-least-once, with per-row exponential backoff and a terminal failed
// state after MaxRetries attempts.
type Persistent struct {
	shipper  *shipper
	store    *Store
	precheck PrecheckFunc

	pollInterval     time.Duration
	maxBatch         int
	maxRetries       int
	reclaimThreshold time.Duration
	drainCap         int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	totalSent   atomic.Int64
	totalFailed atomic.Int64
	lastErr     atomic.Value // string
	workerAlive atomic.Bool

	logger  *logging.Logger
	metrics *Metrics
}

// NewPersistent opens the queue database and starts the worker.
func NewPersistent(cfg Config) (*Persistent, error) {
	cfg = cfg.withDefaults()
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("persistent delivery requires a queue db path")
	}
	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	p := &Persistent{
		shipper:          newShipper(cfg),
		store:            store,
		precheck:         cfg.Precheck,
		pollInterval:     cfg.PollInterval,
		maxBatch:         cfg.PickBatchSize,
		maxRetries:       cfg.MaxRetries,
		reclaimThreshold: cfg.ReclaimThreshold,
		drainCap:         cfg.DrainCap,
		stopCh:           make(chan struct{}),
		logger:           cfg.Logger.Component("delivery.persistent"),
		metrics:          cfg.Metrics,
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Enqueue persists the record and returns once the row is committed.
// Delivery happens asynchronously.
func (p *Persistent) Enqueue(ctx context.Context, rec usage.Record) (*TrackResponse, error) {
	select {
	case <-p.stopCh:
		return nil, ErrStopped
	default:
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if p.precheck != nil {
		if err := p.precheck(ctx, rec); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	if _, err := p.store.Enqueue(ctx, payload); err != nil {
		return nil, err
	}
	return nil, nil
}

// Deliver ships a pre-built batch directly, bypassing the queue.
func (p *Persistent) Deliver(ctx context.Context, recs []usage.Record) (*TrackResponse, error) {
	if len(recs) == 0 {
		return &TrackResponse{}, nil
	}
	resp, err := p.shipper.ship(ctx, recs)
	if err != nil {
		p.recordFailure(len(recs), err)
		return nil, err
	}
	p.recordSuccess(len(recs))
	return resp, nil
}

// Stop signals the worker, waits for it, then drains rows that are
// immediately eligible. The drain loop is bounded so a dead endpoint
// cannot hang shutdown; undelivered rows stay queued for the next run.
func (p *Persistent) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.drain(ctx)
	p.shipper.close()
	return p.store.Close()
}

// Stats reports delivery health. Queue depths come from the database so
// they reflect rows enqueued by earlier runs as well.
func (p *Persistent) Stats() Stats {
	lastErr, _ := p.lastErr.Load().(string)
	stats := Stats{
		TotalSent:   p.totalSent.Load(),
		TotalFailed: p.totalFailed.Load(),
		LastError:   lastErr,
		WorkerAlive: p.workerAlive.Load(),
	}
	queued, processing, _, err := p.store.CountByStatus(context.Background())
	if err != nil {
		p.logger.Warn("failed to read queue counts", "error", err)
		return stats
	}
	stats.Queued = queued
	stats.InFlight = processing
	return stats
}

// Type identifies the strategy.
func (p *Persistent) Type() Type {
	return TypePersistentQueue
}

// run is the worker loop: reclaim orphans, pick one batch, ship it,
// sleep when the queue is empty.
func (p *Persistent) run() {
	defer p.wg.Done()
	p.workerAlive.Store(true)
	defer p.workerAlive.Store(false)

	ctx := context.Background()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if n, err := p.store.Reclaim(ctx, p.reclaimThreshold); err != nil {
			p.logger.Warn("failed to reclaim orphaned rows", "error", err)
		} else if n > 0 {
			p.logger.Info("reclaimed orphaned queue rows", "rows", n)
		}

		shipped, err := p.cycle(ctx)
		if err != nil {
			p.logger.Warn("delivery cycle failed", "error", err)
		}
		if shipped == 0 {
			// Queue empty or nothing eligible yet.
			select {
			case <-time.After(p.pollInterval):
			case <-p.stopCh:
				return
			}
		}
	}
}

// cycle picks one batch, ships it, and settles every row: delivered rows
// are deleted, failed rows are rescheduled or terminally failed, and
// unreadable payloads are failed without an attempt.
func (p *Persistent) cycle(ctx context.Context) (int, error) {
	items, err := p.store.Pick(ctx, p.maxBatch)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	batch := make([]usage.Record, 0, len(items))
	live := make([]Item, 0, len(items))
	for _, it := range items {
		var rec usage.Record
		if err := json.Unmarshal(it.Payload, &rec); err != nil {
			p.logger.Warn("unreadable queue payload, marking failed",
				"row", it.ID, "error", err)
			if ferr := p.store.MarkFailed(ctx, it.ID); ferr != nil {
				p.logger.Warn("failed to mark poison row", "row", it.ID, "error", ferr)
			}
			p.recordFailure(1, err)
			continue
		}
		batch = append(batch, rec)
		live = append(live, it)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if _, err := p.shipper.ship(ctx, batch); err != nil {
		p.lastErr.Store(err.Error())
		for _, it := range live {
			status, rerr := p.store.Reschedule(ctx, it, p.maxRetries)
			if rerr != nil {
				p.logger.Warn("failed to reschedule row", "row", it.ID, "error", rerr)
				continue
			}
			if status == StatusFailed {
				p.recordFailure(1, err)
				p.logger.Warn("row exhausted retries", "row", it.ID, "retries", it.RetryCount+1)
			}
		}
		p.updateDepth(ctx)
		return 0, err
	}

	ids := make([]int64, len(live))
	for i, it := range live {
		ids[i] = it.ID
	}
	if err := p.store.Ack(ctx, ids); err != nil {
		// Rows stay processing and will be reclaimed; the server already
		// accepted them, so this run may redeliver.
		p.logger.Warn("failed to ack delivered rows", "rows", len(ids), "error", err)
	}
	p.recordSuccess(len(live))
	p.updateDepth(ctx)
	return len(live), nil
}

// drain ships immediately-eligible rows at shutdown, at most drainCap
// passes, stopping early once a cycle ships nothing.
func (p *Persistent) drain(ctx context.Context) {
	for i := 0; i < p.drainCap; i++ {
		if ctx.Err() != nil {
			return
		}
		shipped, err := p.cycle(ctx)
		if err != nil || shipped == 0 {
			return
		}
	}
}

func (p *Persistent) updateDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	queued, _, _, err := p.store.CountByStatus(ctx)
	if err != nil {
		return
	}
	p.metrics.setQueueDepth(string(TypePersistentQueue), queued)
}

func (p *Persistent) recordSuccess(n int) {
	p.totalSent.Add(int64(n))
	p.metrics.addSent(string(TypePersistentQueue), n)
}

func (p *Persistent) recordFailure(n int, err error) {
	p.totalFailed.Add(int64(n))
	p.metrics.addFailed(string(TypePersistentQueue), n)
	p.lastErr.Store(err.Error())
}
