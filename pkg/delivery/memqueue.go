package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
	"github.com/aicostmanager/aicostmanager-go/pkg/usage"
)

// MemQueue buffers records in a bounded in-memory FIFO drained by one
// background worker. The strategy is explicitly lossy to preserve bounded
// memory: a full queue drops the new record (counted, not an error) and a
// failed batch is counted as failed without requeueing.
type MemQueue struct {
	shipper  *shipper
	precheck PrecheckFunc

	ch            chan usage.Record
	batchInterval time.Duration
	maxBatch      int

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

// NewMemQueue creates an in-memory queue delivery and starts its worker.
func NewMemQueue(cfg Config) (*MemQueue, error) {
	cfg = cfg.withDefaults()
	q := &MemQueue{
		shipper:       newShipper(cfg),
		precheck:      cfg.Precheck,
		ch:            make(chan usage.Record, cfg.QueueSize),
		batchInterval: cfg.BatchInterval,
		maxBatch:      cfg.MaxBatchSize,
		stopCh:        make(chan struct{}),
		logger:        cfg.Logger.Component("delivery.memqueue"),
		metrics:       cfg.Metrics,
	}
	q.wg.Add(1)
	go q.run()
	return q, nil
}

// Enqueue buffers the record without blocking. On a full queue the record
// is dropped, total_failed is incremented, and no error is returned.
func (q *MemQueue) Enqueue(ctx context.Context, rec usage.Record) (*TrackResponse, error) {
	select {
	case <-q.stopCh:
		return nil, ErrStopped
	default:
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if q.precheck != nil {
		if err := q.precheck(ctx, rec); err != nil {
			return nil, err
		}
	}

	select {
	case q.ch <- rec:
		q.metrics.setQueueDepth(string(TypeMemQueue), len(q.ch))
	default:
		q.totalFailed.Add(1)
		q.metrics.addDropped(string(TypeMemQueue), 1)
		q.logger.Warn("delivery queue full, dropping record", "response_id", rec.ResponseID)
	}
	return nil, nil
}

// Deliver ships a pre-built batch directly, bypassing the queue.
func (q *MemQueue) Deliver(ctx context.Context, recs []usage.Record) (*TrackResponse, error) {
	if len(recs) == 0 {
		return &TrackResponse{}, nil
	}
	resp, err := q.shipper.ship(ctx, recs)
	if err != nil {
		q.recordFailure(len(recs), err)
		return nil, err
	}
	q.recordSuccess(len(recs))
	return resp, nil
}

// Stop signals the worker, drains at most one final non-blocking
// collection, and waits for the worker to exit. Stop is idempotent.
func (q *MemQueue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	q.shipper.close()
	return nil
}

// Stats reports delivery health.
func (q *MemQueue) Stats() Stats {
	lastErr, _ := q.lastErr.Load().(string)
	return Stats{
		Queued:      len(q.ch),
		TotalSent:   q.totalSent.Load(),
		TotalFailed: q.totalFailed.Load(),
		LastError:   lastErr,
		WorkerAlive: q.workerAlive.Load(),
	}
}

// Type identifies the strategy.
func (q *MemQueue) Type() Type {
	return TypeMemQueue
}

// run is the worker loop: collect up to maxBatch records within
// batchInterval, ship, repeat. On stop it performs one final non-blocking
// collection so buffered records are flushed.
func (q *MemQueue) run() {
	defer q.wg.Done()
	q.workerAlive.Store(true)
	defer q.workerAlive.Store(false)

	for {
		batch, stopping := q.collect()
		if len(batch) > 0 {
			q.send(batch)
		}
		if stopping {
			if final := q.collectNonBlocking(); len(final) > 0 {
				q.send(final)
			}
			return
		}
	}
}

// collect waits up to batchInterval for records, returning early when the
// batch is full or stop is signaled.
func (q *MemQueue) collect() (batch []usage.Record, stopping bool) {
	timer := time.NewTimer(q.batchInterval)
	defer timer.Stop()

	for len(batch) < q.maxBatch {
		select {
		case rec := <-q.ch:
			batch = append(batch, rec)
		case <-timer.C:
			return batch, false
		case <-q.stopCh:
			return batch, true
		}
	}
	return batch, false
}

// collectNonBlocking drains whatever is buffered right now, up to one
// batch.
func (q *MemQueue) collectNonBlocking() []usage.Record {
	var batch []usage.Record
	for len(batch) < q.maxBatch {
		select {
		case rec := <-q.ch:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (q *MemQueue) send(batch []usage.Record) {
	_, err := q.shipper.ship(context.Background(), batch)
	if err != nil {
		// Lossy by design: the batch is not requeued.
		q.recordFailure(len(batch), err)
		q.logger.Warn("batch delivery failed",
			"records", len(batch),
			"error", err,
		)
		return
	}
	q.recordSuccess(len(batch))
	q.metrics.setQueueDepth(string(TypeMemQueue), len(q.ch))
}

func (q *MemQueue) recordSuccess(n int) {
	q.totalSent.Add(int64(n))
	q.metrics.addSent(string(TypeMemQueue), n)
}

func (q *MemQueue) recordFailure(n int, err error) {
	q.totalFailed.Add(int64(n))
	q.metrics.addFailed(string(TypeMemQueue), n)
	q.lastErr.Store(err.Error())
}
