package tracker

import (
	"fmt"

	"github.com/aicostmanager/aicostmanager-go/pkg/limits"
)

// UsageLimitExceededError is returned by Track when the cached triggered
// limits contain at least one blocking limit matching the record's scope.
// The record is not enqueued.
type UsageLimitExceededError struct {
	// Limits are the blocking limits that matched, in cache order.
	Limits []limits.TriggeredLimit
}

func (e *UsageLimitExceededError) Error() string {
	if len(e.Limits) == 1 {
		l := e.Limits[0]
		return fmt.Sprintf("usage limit exceeded: limit %s (amount %s per %s)",
			l.LimitID, l.Amount, l.Period)
	}
	return fmt.Sprintf("usage limit exceeded: %d blocking limits active", len(e.Limits))
}
