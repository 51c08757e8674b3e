package metrics

import (
	"math"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// samples are kept with a resolution of 1/trendScale of their unit,
	// i.e. microseconds for millisecond trends
	trendScale = 1000
	// one hour of milliseconds, in scaled units
	trendHighest = 3_600_000 * trendScale
	trendSigFigs = 3
)

// TrendSummary holds the aggregates of a trend metric.
type TrendSummary struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Med   float64 `json:"med"`
	P90   float64 `json:"p(90)"`
	P95   float64 `json:"p(95)"`
	P99   float64 `json:"p(99)"`
	Count uint64  `json:"count"`
}

// trendSink keeps exact min/max/sum/count and an HDR histogram for the
// percentiles, which are approximate.
type trendSink struct {
	mu    sync.Mutex
	h     *hdrhistogram.Histogram
	min   float64
	max   float64
	sum   float64
	count uint64
}

func newTrendSink() *trendSink {
	return &trendSink{h: hdrhistogram.New(1, trendHighest, trendSigFigs)}
}

// add ignores NaN and infinite samples, which have no place in a summary.
func (t *trendSink) add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	scaled := int64(math.Round(v * trendScale))
	if scaled < 0 {
		scaled = 0
	}
	if scaled > t.h.HighestTrackableValue() {
		scaled = t.h.HighestTrackableValue()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	_ = t.h.RecordValue(scaled)
	if t.count == 0 || v < t.min {
		t.min = v
	}
	if t.count == 0 || v > t.max {
		t.max = v
	}
	t.sum += v
	t.count++
}

// percentileLocked must be called with t.mu held.
func (t *trendSink) percentileLocked(pct float64) float64 {
	switch t.count {
	case 0:
		return 0
	case 1:
		return t.min
	}
	v := float64(t.h.ValueAtQuantile(pct)) / trendScale
	return math.Min(math.Max(v, t.min), t.max)
}

func (t *trendSink) percentile(pct float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentileLocked(pct)
}

func (t *trendSink) summary() TrendSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return TrendSummary{}
	}
	return TrendSummary{
		Min:   t.min,
		Max:   t.max,
		Avg:   t.sum / float64(t.count),
		Med:   t.percentileLocked(50),
		P90:   t.percentileLocked(90),
		P95:   t.percentileLocked(95),
		P99:   t.percentileLocked(99),
		Count: t.count,
	}
}
