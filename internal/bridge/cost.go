package bridge

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// CostMeter accrues an estimated session cost from elapsed wall time and a
// per-minute rate. The accrued value is monotonic: samples are folded in with
// a compare-and-swap max so a late or reordered sample can never lower the
// reading.
type CostMeter struct {
	ratePerMinute float64
	now           func() time.Time

	started atomic.Bool
	startAt time.Time

	// accrued holds math.Float64bits of the current estimate.
	accrued atomic.Uint64

	finalizeOnce sync.Once
	finalAmount  float64
	finalElapsed time.Duration
}

// NewCostMeter creates a meter for the given rate. A nil now defaults to
// time.Now.
func NewCostMeter(ratePerMinute float64, now func() time.Time) *CostMeter {
	if now == nil {
		now = time.Now
	}
	return &CostMeter{ratePerMinute: ratePerMinute, now: now}
}

// Start records the billing epoch. Subsequent calls are no-ops.
func (m *CostMeter) Start() {
	if m.started.CompareAndSwap(false, true) {
		m.startAt = m.now()
	}
}

// Sample folds the current elapsed-time estimate into the accrued value.
func (m *CostMeter) Sample() float64 {
	if !m.started.Load() {
		return 0
	}
	est := m.now().Sub(m.startAt).Minutes() * m.ratePerMinute
	for {
		old := m.accrued.Load()
		if est <= math.Float64frombits(old) {
			return math.Float64frombits(old)
		}
		if m.accrued.CompareAndSwap(old, math.Float64bits(est)) {
			return est
		}
	}
}

// Run samples once per interval until the context is cancelled.
func (m *CostMeter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Current returns the accrued estimate without advancing it.
func (m *CostMeter) Current() float64 {
	return math.Float64frombits(m.accrued.Load())
}

// Finalize takes one last sample and freezes the meter. Only the first call
// computes; later calls return the same amount and elapsed duration.
func (m *CostMeter) Finalize() (amount float64, elapsed time.Duration) {
	m.finalizeOnce.Do(func() {
		m.finalAmount = m.Sample()
		if m.started.Load() {
			m.finalElapsed = m.now().Sub(m.startAt)
		}
	})
	return m.finalAmount, m.finalElapsed
}
