// Package metrics aggregates the samples emitted by iterations into
// counters, trends and check-style pass/fail pairs, and evaluates thresholds
// over the result.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Names of the metrics every executor emits.
const (
	Iterations            = "iterations"
	IterationDuration     = "iteration_duration"
	IterationStatus       = "iteration_status"
	InterruptedIterations = "interrupted_iterations"
	DroppedIterations     = "dropped_iterations"
	Checks                = "checks"
)

const (
	passSuffix = ".pass"
	failSuffix = ".fail"
)

// Collector is the run-wide metrics store. It is safe for concurrent use;
// counters are lock-free and every trend has its own lock.
type Collector struct {
	counters sync.Map // string -> *atomic.Uint64
	trends   sync.Map // string -> *trendSink
	checks   sync.Map // string -> struct{}
	named    sync.Map // string -> *checkResult
}

type checkResult struct {
	passes, fails atomic.Uint64
}

// CheckResult holds the outcome counts of one named script check.
type CheckResult struct {
	Name   string
	Passes uint64
	Fails  uint64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) counter(name string) *atomic.Uint64 {
	if v, ok := c.counters.Load(name); ok {
		return v.(*atomic.Uint64) //nolint:forcetypeassert
	}
	v, _ := c.counters.LoadOrStore(name, new(atomic.Uint64))
	return v.(*atomic.Uint64) //nolint:forcetypeassert
}

// AddCounter adds delta to the named counter, creating it if needed.
func (c *Collector) AddCounter(name string, delta uint64) {
	c.counter(name).Add(delta)
}

// CounterValue returns the current value of the named counter, or 0 if it
// was never written.
func (c *Collector) CounterValue(name string) uint64 {
	v, ok := c.counters.Load(name)
	if !ok {
		return 0
	}
	return v.(*atomic.Uint64).Load() //nolint:forcetypeassert
}

// HasCounter reports whether the named counter was ever written.
func (c *Collector) HasCounter(name string) bool {
	_, ok := c.counters.Load(name)
	return ok
}

// CounterNames returns the names of all counters, sorted. The pass/fail
// halves of check-style metrics are included.
func (c *Collector) CounterNames() []string {
	return sortedKeys(&c.counters)
}

// AddTrend folds a sample into the named trend.
func (c *Collector) AddTrend(name string, sample float64) {
	c.trend(name).add(sample)
}

func (c *Collector) trend(name string) *trendSink {
	if v, ok := c.trends.Load(name); ok {
		return v.(*trendSink) //nolint:forcetypeassert
	}
	v, _ := c.trends.LoadOrStore(name, newTrendSink())
	return v.(*trendSink) //nolint:forcetypeassert
}

// TrendSummary returns the aggregates of the named trend. All fields are
// zero for a trend without samples.
func (c *Collector) TrendSummary(name string) TrendSummary {
	v, ok := c.trends.Load(name)
	if !ok {
		return TrendSummary{}
	}
	return v.(*trendSink).summary() //nolint:forcetypeassert
}

// TrendPercentile returns an arbitrary percentile (0 to 100) of the named trend.
func (c *Collector) TrendPercentile(name string, pct float64) float64 {
	v, ok := c.trends.Load(name)
	if !ok {
		return 0
	}
	return v.(*trendSink).percentile(pct) //nolint:forcetypeassert
}

// TrendNames returns the names of all trends, sorted.
func (c *Collector) TrendNames() []string {
	return sortedKeys(&c.trends)
}

// AddCheck records one pass or fail observation of a check-style metric.
func (c *Collector) AddCheck(name string, ok bool) {
	if _, known := c.checks.Load(name); !known {
		c.checks.LoadOrStore(name, struct{}{})
		// both halves exist so that the pair always reads consistently
		c.counter(name + passSuffix)
		c.counter(name + failSuffix)
	}
	if ok {
		c.AddCounter(name+passSuffix, 1)
	} else {
		c.AddCounter(name+failSuffix, 1)
	}
}

// AddCheckResult records one evaluation of a named script check. The
// observation also counts towards the checks metric.
func (c *Collector) AddCheckResult(name string, ok bool) {
	v, loaded := c.named.Load(name)
	if !loaded {
		v, _ = c.named.LoadOrStore(name, &checkResult{})
	}
	r := v.(*checkResult) //nolint:forcetypeassert
	if ok {
		r.passes.Add(1)
	} else {
		r.fails.Add(1)
	}
	c.AddCheck(Checks, ok)
}

// CheckResults returns the counts of every named script check, sorted by name.
func (c *Collector) CheckResults() []CheckResult {
	names := sortedKeys(&c.named)
	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		v, _ := c.named.Load(name)
		r := v.(*checkResult) //nolint:forcetypeassert
		results = append(results, CheckResult{Name: name, Passes: r.passes.Load(), Fails: r.fails.Load()})
	}
	return results
}

// CheckNames returns the names of all check-style metrics, sorted.
func (c *Collector) CheckNames() []string {
	return sortedKeys(&c.checks)
}

// IsCheck reports whether name was recorded as a check-style metric.
func (c *Collector) IsCheck(name string) bool {
	_, ok := c.checks.Load(name)
	return ok
}

// CheckCounts returns the pass and fail counts of a check-style metric.
func (c *Collector) CheckCounts(name string) (pass, fail uint64) {
	return c.CounterValue(name + passSuffix), c.CounterValue(name + failSuffix)
}

// Rate returns fail / (pass + fail) for a check-style metric along with the
// total number of observations. The rate is 0 when there are none.
func (c *Collector) Rate(name string) (float64, uint64) {
	pass, fail := c.CheckCounts(name)
	total := pass + fail
	if total == 0 {
		return 0, 0
	}
	return float64(fail) / float64(total), total
}

// IsCheckCounter reports whether a counter name is one half of a check-style metric.
func (c *Collector) IsCheckCounter(name string) bool {
	for _, suffix := range []string{passSuffix, failSuffix} {
		if base, ok := strings.CutSuffix(name, suffix); ok && c.IsCheck(base) {
			return true
		}
	}
	return false
}

func sortedKeys(m *sync.Map) []string {
	var names []string
	m.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string)) //nolint:forcetypeassert
		return true
	})
	sort.Strings(names)
	return names
}
