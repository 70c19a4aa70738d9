package trace

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// clock is a monotonic logical clock stamping trace records with a strictly
// increasing seq. Ordering by seq is deterministic even when the wall clock
// is not (NTP steps, coarse timer resolution).
type clock struct {
	seq atomic.Int64
}

func (c *clock) next() int64 {
	return c.seq.Add(1)
}

// newRunToken returns a time-sortable UUIDv7 identifying one test run.
func newRunToken() string {
	return uuid.Must(uuid.NewV7()).String()
}
