package delivery

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aicostmanager/aicostmanager-go/pkg/usage"
)

// Immediate ships each record synchronously on the caller's goroutine
// with bounded retries. There is no worker and no buffering; back-pressure
// lands directly on the caller.
type Immediate struct {
	shipper  *shipper
	precheck PrecheckFunc

	totalSent   atomic.Int64
	totalFailed atomic.Int64
	lastErr     atomic.Value // string

	stopOnce sync.Once
}

// NewImmediate creates an immediate delivery.
func NewImmediate(cfg Config) (*Immediate, error) {
	cfg = cfg.withDefaults()
	return &Immediate{
		shipper:  newShipper(cfg),
		precheck: cfg.Precheck,
	}, nil
}

// Enqueue ships the record now and returns the parsed server response.
// When the server accepted the record but produced no cost events, the
// response is returned together with ErrNoCostsTracked.
func (d *Immediate) Enqueue(ctx context.Context, rec usage.Record) (*TrackResponse, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if d.precheck != nil {
		if err := d.precheck(ctx, rec); err != nil {
			return nil, err
		}
	}

	resp, err := d.shipper.ship(ctx, []usage.Record{rec})
	if err != nil {
		d.totalFailed.Add(1)
		d.lastErr.Store(err.Error())
		return nil, err
	}
	d.totalSent.Add(1)

	if len(resp.Results) > 0 && !resp.HasCostEvents() {
		return resp, ErrNoCostsTracked
	}
	return resp, nil
}

// Deliver ships a pre-built batch without running the pre-check.
func (d *Immediate) Deliver(ctx context.Context, recs []usage.Record) (*TrackResponse, error) {
	if len(recs) == 0 {
		return &TrackResponse{}, nil
	}
	resp, err := d.shipper.ship(ctx, recs)
	if err != nil {
		d.totalFailed.Add(int64(len(recs)))
		d.lastErr.Store(err.Error())
		return nil, err
	}
	d.totalSent.Add(int64(len(recs)))
	return resp, nil
}

// Stop closes the HTTP client. It is idempotent.
func (d *Immediate) Stop(context.Context) error {
	d.stopOnce.Do(d.shipper.close)
	return nil
}

// Stats reports delivery health. The immediate strategy has no queue and
// no worker.
func (d *Immediate) Stats() Stats {
	lastErr, _ := d.lastErr.Load().(string)
	return Stats{
		TotalSent:   d.totalSent.Load(),
		TotalFailed: d.totalFailed.Load(),
		LastError:   lastErr,
	}
}

// Type identifies the strategy.
func (d *Immediate) Type() Type {
	return TypeImmediate
}
