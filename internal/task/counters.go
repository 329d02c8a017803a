package task

import (
	"strconv"
	"time"
)

// Counters is the cycle bookkeeping of a task. A wrapper task built with
// WithCounters shares the handle of the task it wraps instead of keeping
// its own copy.
type Counters struct {
	cpu    time.Duration
	cycles int
}

// CPUTime returns the accumulated time spent inside cycle functions.
func (c *Counters) CPUTime() time.Duration { return c.cpu }

// Cycles returns the number of completed cycle invocations.
func (c *Counters) Cycles() int { return c.cycles }

func (c *Counters) record(d time.Duration) {
	if d > 0 {
		c.cpu += d
	}
	c.cycles++
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
