package metricsagg

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// sampler reads the current value of named Prometheus collectors out of
// a Gatherer, the same counters internal/metrics registers for live
// scraping. Gather() is the only way to read a counter's current value
// back out of the client library (counters are otherwise write-only from
// the application's perspective).
type sampler struct {
	families map[string]*dto.MetricFamily
}

func newSampler(g prometheus.Gatherer) (*sampler, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, err
	}
	families := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		families[mf.GetName()] = mf
	}
	return &sampler{families: families}, nil
}

// counterSum returns the sum of a counter or counter-vector's values
// across every label combination.
func (s *sampler) counterSum(name string) uint64 {
	mf, ok := s.families[name]
	if !ok {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return uint64(total)
}

// gaugeValue returns a single gauge's current value (0 if unregistered or
// empty; if the vector has more than one series, the first is used).
func (s *sampler) gaugeValue(name string) float64 {
	mf, ok := s.families[name]
	if !ok || len(mf.GetMetric()) == 0 {
		return 0
	}
	return mf.GetMetric()[0].GetGauge().GetValue()
}

// histogramStats returns the observation count, sum, and an approximate
// p50/p95/p99 derived by linear interpolation across the histogram's
// cumulative buckets — a standard client-side approximation used when
// exact quantiles aren't needed and a full query engine isn't available.
func (s *sampler) histogramStats(name string) (count uint64, sum float64, p50, p95, p99 float64) {
	mf, ok := s.families[name]
	if !ok {
		return 0, 0, 0, 0, 0
	}
	var h *dto.Histogram
	for _, m := range mf.GetMetric() {
		if m.GetHistogram() == nil {
			continue
		}
		if h == nil {
			h = &dto.Histogram{}
		}
		h.SampleCount = ptrAdd(h.SampleCount, m.GetHistogram().GetSampleCount())
		h.SampleSum = ptrAddF(h.SampleSum, m.GetHistogram().GetSampleSum())
		h.Bucket = mergeBuckets(h.Bucket, m.GetHistogram().GetBucket())
	}
	if h == nil {
		return 0, 0, 0, 0, 0
	}
	count = h.GetSampleCount()
	sum = h.GetSampleSum()
	p50 = quantile(h, 0.50)
	p95 = quantile(h, 0.95)
	p99 = quantile(h, 0.99)
	return
}

func quantile(h *dto.Histogram, q float64) float64 {
	target := q * float64(h.GetSampleCount())
	var prevUpper float64
	var prevCount uint64
	for _, b := range h.GetBucket() {
		if float64(b.GetCumulativeCount()) >= target {
			upper := b.GetUpperBound()
			count := b.GetCumulativeCount()
			if count == prevCount {
				return upper
			}
			frac := (target - float64(prevCount)) / float64(count-prevCount)
			return prevUpper + frac*(upper-prevUpper)
		}
		prevUpper = b.GetUpperBound()
		prevCount = b.GetCumulativeCount()
	}
	return prevUpper
}

func mergeBuckets(a, b []*dto.Bucket) []*dto.Bucket {
	if a == nil {
		return b
	}
	// Buckets share the same boundaries across label combinations for a
	// given histogram metric; sum cumulative counts index-wise.
	for i := range a {
		if i < len(b) {
			a[i].CumulativeCount = ptrAdd(a[i].CumulativeCount, b[i].GetCumulativeCount())
		}
	}
	return a
}

func ptrAdd(existing *uint64, add uint64) *uint64 {
	var base uint64
	if existing != nil {
		base = *existing
	}
	sum := base + add
	return &sum
}

func ptrAddF(existing *float64, add float64) *float64 {
	var base float64
	if existing != nil {
		base = *existing
	}
	sum := base + add
	return &sum
}

// runtimeStats returns the rough process-level CPU/memory signals the
// spec asks for. No process-sampling library exists anywhere in the
// pack, so this is stdlib-only (runtime.ReadMemStats, NumGoroutine): a
// real deployment's p50/p95/p99 latency and business counters above
// dominate the signal, this is best-effort context alongside them.
func runtimeStats() (goroutines uint64, allocBytes uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return uint64(runtime.NumGoroutine()), ms.Alloc
}
