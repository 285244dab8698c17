package circuitbreaker

import (
	"sort"
	"time"
)

// outcome is one recorded call result inside the rolling window.
type outcome struct {
	at           time.Time
	success      bool
	responseTime time.Duration
}

// rollingWindow is a time-bounded buffer of recent call outcomes used for
// the error-rate trip condition and latency statistics. It is not
// goroutine-safe; the owning Breaker serializes access.
type rollingWindow struct {
	span     time.Duration
	outcomes []outcome
}

func newRollingWindow(span time.Duration) *rollingWindow {
	return &rollingWindow{span: span}
}

// add records an outcome and prunes entries older than the window span.
func (w *rollingWindow) add(now time.Time, success bool, responseTime time.Duration) {
	w.outcomes = append(w.outcomes, outcome{at: now, success: success, responseTime: responseTime})
	w.prune(now)
}

// prune drops outcomes that fell out of the window.
func (w *rollingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)

	firstValid := 0
	for firstValid < len(w.outcomes) && w.outcomes[firstValid].at.Before(cutoff) {
		firstValid++
	}

	if firstValid > 0 {
		w.outcomes = append(w.outcomes[:0], w.outcomes[firstValid:]...)
	}
}

// counts returns the total and failed outcomes currently in the window.
func (w *rollingWindow) counts(now time.Time) (total, failures int) {
	w.prune(now)

	for _, o := range w.outcomes {
		if !o.success {
			failures++
		}
	}

	return len(w.outcomes), failures
}

// errorPercentage returns the failure rate in the window as 0–100.
func (w *rollingWindow) errorPercentage(now time.Time) float64 {
	total, failures := w.counts(now)
	if total == 0 {
		return 0
	}

	return float64(failures) / float64(total) * 100
}

// percentile returns the pth latency percentile (nearest-rank) over the
// window, or 0 when the window is empty.
func (w *rollingWindow) percentile(now time.Time, p float64) time.Duration {
	w.prune(now)

	if len(w.outcomes) == 0 {
		return 0
	}

	latencies := make([]time.Duration, len(w.outcomes))
	for i, o := range w.outcomes {
		latencies[i] = o.responseTime
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	rank := int(float64(len(latencies)) * p / 100)
	if rank >= len(latencies) {
		rank = len(latencies) - 1
	}

	return latencies[rank]
}

// reset drops all recorded outcomes.
func (w *rollingWindow) reset() {
	w.outcomes = w.outcomes[:0]
}
