package delivery

import "errors"

// ErrNoCostsTracked reports that the server accepted a record (2xx) but
// produced no cost events for it. Non-fatal: the immediate strategy
// surfaces it for visibility, queue strategies count plain success.
var ErrNoCostsTracked = errors.New("delivery succeeded but no costs were tracked")

// ErrStopped reports an enqueue on a delivery that has been stopped.
var ErrStopped = errors.New("delivery is stopped")
