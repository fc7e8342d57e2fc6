package resolver

import (
	"sync"
	"time"
)

// Pacer gates consecutive requests on the sequential path. Injectable so
// tests run without real delays.
type Pacer interface {
	Wait()
}

// NopPacer never waits.
type NopPacer struct{}

func (NopPacer) Wait() {}

type intervalPacer struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewIntervalPacer returns a Pacer enforcing a fixed minimum interval
// between calls, matching the archive's usage policy for repeated queries.
func NewIntervalPacer(interval time.Duration) Pacer {
	return &intervalPacer{interval: interval}
}

func (p *intervalPacer) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		if elapsed := time.Since(p.last); elapsed < p.interval {
			time.Sleep(p.interval - elapsed)
		}
	}
	p.last = time.Now()
}
