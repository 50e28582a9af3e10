package batch

import "time"

// Deadline tells the processor when the invocation's time budget is spent.
type Deadline interface {
	Exceeded() bool
	// Remaining reports the unspent budget. bounded is false when the
	// deadline never expires.
	Remaining() (left time.Duration, bounded bool)
}

// ClockDeadline measures elapsed time since construction against a budget.
type ClockDeadline struct {
	start  time.Time
	budget time.Duration
	now    func() time.Time
}

// NewDeadline starts a budget now. A non-positive budget never expires.
func NewDeadline(budget time.Duration, now func() time.Time) *ClockDeadline {
	if now == nil {
		now = time.Now
	}
	return &ClockDeadline{start: now(), budget: budget, now: now}
}

// Exceeded reports whether more than the budget has elapsed.
func (d *ClockDeadline) Exceeded() bool {
	if d.budget <= 0 {
		return false
	}
	return d.now().Sub(d.start) > d.budget
}

// Remaining returns the unspent budget, floored at zero.
func (d *ClockDeadline) Remaining() (time.Duration, bool) {
	if d.budget <= 0 {
		return 0, false
	}
	return max(d.budget-d.now().Sub(d.start), 0), true
}
