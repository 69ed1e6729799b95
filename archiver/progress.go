package archiver

import "sync/atomic"

// Progress counts terminal item outcomes against the known run total.
// The total is seeded once all channel listings finish; Done is called
// exactly once per terminal outcome.
type Progress struct {
	total     int64
	completed int64
}

// SetTotal seeds the total known item count for the run.
func (p *Progress) SetTotal(n int) {
	atomic.StoreInt64(&p.total, int64(n))
}

// Done records one terminal outcome and returns the completed count.
func (p *Progress) Done() int {
	return int(atomic.AddInt64(&p.completed, 1))
}

// Completed returns the number of items with a terminal outcome.
func (p *Progress) Completed() int {
	return int(atomic.LoadInt64(&p.completed))
}

// Total returns the seeded item total.
func (p *Progress) Total() int {
	return int(atomic.LoadInt64(&p.total))
}
