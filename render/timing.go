package render

// Estimator keeps the rolling history of completed-frame durations and
// derives the remaining/total estimates. Like the tracker it lives on the
// monitor goroutine only.
type Estimator struct {
	durations []float64
	floor     float64 // conservative seconds-per-frame guess with no data
}

// NewEstimator returns an estimator using floorSecondsPerFrame for the
// no-data tier.
func NewEstimator(floorSecondsPerFrame float64) *Estimator {
	return &Estimator{floor: floorSecondsPerFrame}
}

// Record appends a completed-frame duration, in completion order.
func (e *Estimator) Record(seconds float64) {
	e.durations = append(e.durations, seconds)
}

// Count returns the number of recorded durations.
func (e *Estimator) Count() int {
	return len(e.durations)
}

// Average is the arithmetic mean over the full history, 0 with no samples.
func (e *Estimator) Average() float64 {
	if len(e.durations) == 0 {
		return 0
	}
	var sum float64
	for _, d := range e.durations {
		sum += d
	}
	return sum / float64(len(e.durations))
}

// RecentEstimate extrapolates the last two samples (2*last - secondLast,
// clamped at zero) to weight a speed-up or slow-down trend over the flat
// mean. With fewer than two samples it equals Average.
func (e *Estimator) RecentEstimate() float64 {
	n := len(e.durations)
	if n < 2 {
		return e.Average()
	}
	est := 2*e.durations[n-1] - e.durations[n-2]
	if est < 0 {
		return 0
	}
	return est
}

// EstimateRemaining returns the remaining seconds for the job under the
// tiered policy: average-based when history exists, overall-pace-based when
// at least one frame finished, and the flat per-frame floor otherwise.
// The result is never negative; confident is false only for the floor tier.
func (e *Estimator) EstimateRemaining(completed, total int, elapsed float64) (remaining float64, confident bool) {
	if total <= 0 {
		return 0, false
	}
	left := total - completed
	if left < 0 {
		left = 0
	}
	switch {
	case len(e.durations) > 0:
		remaining = float64(left) * e.Average()
		confident = true
	case completed > 0:
		remaining = elapsed/float64(completed)*float64(total) - elapsed
		confident = true
	default:
		remaining = e.floor*float64(total) - elapsed
		confident = false
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, confident
}

// EstimateTotal is always elapsed + remaining, so the elapsed/remaining/total
// triple stays consistent at every observation point.
func (e *Estimator) EstimateTotal(completed, total int, elapsed float64) float64 {
	remaining, _ := e.EstimateRemaining(completed, total, elapsed)
	return elapsed + remaining
}
