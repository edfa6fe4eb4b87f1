package pacer

import (
	"time"

	metrics "github.com/rcrowley/go-metrics"
)

// Stats is a point-in-time view of a Throttle's counters.
type Stats struct {
	Submitted  int64 `json:"submitted"`
	Rejected   int64 `json:"rejected"`
	Dispatched int64 `json:"dispatched"`
	Failed     int64 `json:"failed"`
	Queued     int   `json:"queued"`

	// MeanSpacing is the average time between consecutive dispatches.
	MeanSpacing time.Duration `json:"mean_spacing"`
}

type throttleStats struct {
	submitted  metrics.Counter
	rejected   metrics.Counter
	dispatched metrics.Counter
	failed     metrics.Counter
	spacing    metrics.Timer
}

// newThrottleStats registers the counters of the named throttle in r,
// under "pacer.<name>.". Registering the same name twice shares the
// counters.
func newThrottleStats(r metrics.Registry, name string, queueLen func() int) *throttleStats {
	prefix := "pacer." + name + "."
	s := &throttleStats{
		submitted:  metrics.GetOrRegisterCounter(prefix+"submitted", r),
		rejected:   metrics.GetOrRegisterCounter(prefix+"rejected", r),
		dispatched: metrics.GetOrRegisterCounter(prefix+"dispatched", r),
		failed:     metrics.GetOrRegisterCounter(prefix+"failed", r),
		spacing:    metrics.GetOrRegisterTimer(prefix+"spacing", r),
	}
	// The last throttle registered under a name owns the gauge.
	r.Unregister(prefix + "queued")
	r.Register(prefix+"queued", metrics.NewFunctionalGauge(func() int64 {
		return int64(queueLen())
	}))
	return s
}

func (s *throttleStats) snapshot() Stats {
	return Stats{
		Submitted:   s.submitted.Count(),
		Rejected:    s.rejected.Count(),
		Dispatched:  s.dispatched.Count(),
		Failed:      s.failed.Count(),
		MeanSpacing: time.Duration(s.spacing.Mean()),
	}
}
