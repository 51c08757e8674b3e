package metrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/liuxd6825/vuflow/errext"
	"github.com/liuxd6825/vuflow/errext/exitcodes"
)

// Aggregation methods a threshold can be expressed over.
const (
	AggregationRate  = "rate"
	AggregationCount = "count"
	AggregationAvg   = "avg"
	AggregationMin   = "min"
	AggregationMax   = "max"
	AggregationMed   = "med"
)

var thresholdRegexp = regexp.MustCompile(
	`^\s*(rate|count|avg|min|max|med|p\(\s*[0-9]+(?:\.[0-9]+)?\s*\))\s*(===|==|!=|<=|>=|<|>)\s*(\S+)\s*$`,
)

// Threshold is a single parsed rule, e.g. "p(95)<500".
type Threshold struct {
	// Source is the text the rule was parsed from.
	Source      string
	Aggregation string
	// Percentile is set for p(N) aggregations, in the 0 to 100 range.
	Percentile float64
	Operator   string
	Value      float64
}

// ParseThreshold parses a rule of the form <aggregation><operator><value>.
func ParseThreshold(src string) (Threshold, error) {
	m := thresholdRegexp.FindStringSubmatch(src)
	if m == nil {
		return Threshold{}, fmt.Errorf("malformed threshold expression %q", src)
	}
	value, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("threshold %q: %q is not a number", src, m[3])
	}

	th := Threshold{Source: strings.TrimSpace(src), Aggregation: m[1], Operator: m[2], Value: value}
	if strings.HasPrefix(th.Aggregation, "p(") {
		inner := strings.TrimSpace(th.Aggregation[2 : len(th.Aggregation)-1])
		pct, err := strconv.ParseFloat(inner, 64)
		if err != nil || pct > 100 {
			return Threshold{}, fmt.Errorf("threshold %q: invalid percentile %q", src, inner)
		}
		th.Percentile = pct
		th.Aggregation = "p(" + inner + ")"
	}
	return th, nil
}

// Passes applies the rule's operator to the observed value.
func (th Threshold) Passes(observed float64) bool {
	switch th.Operator {
	case ">":
		return observed > th.Value
	case ">=":
		return observed >= th.Value
	case "<=":
		return observed <= th.Value
	case "<":
		return observed < th.Value
	case "==", "===":
		// values are always float64, strict and loose equality are the same
		return observed == th.Value
	case "!=":
		return observed != th.Value
	default:
		return false
	}
}

// MetricThresholds are the rules declared for one metric, in declaration order.
type MetricThresholds struct {
	Metric     string
	Thresholds []Threshold
}

// Thresholds is the ordered set of rules of a test run.
type Thresholds []MetricThresholds

// ParseThresholds reads the "thresholds" object of an options document. Each
// metric maps to a rule string, an array of rule strings, or an array of
// {"threshold": "..."} objects. Declaration order is preserved.
func ParseThresholds(doc gjson.Result) (Thresholds, error) {
	if !doc.Exists() || doc.Type == gjson.Null {
		return nil, nil
	}
	if !doc.IsObject() {
		return nil, errext.NewConfigError("thresholds must be an object, got %s", doc.Type)
	}

	var (
		result Thresholds
		err    error
	)
	doc.ForEach(func(key, value gjson.Result) bool {
		mt := MetricThresholds{Metric: key.String()}
		rules := []gjson.Result{value}
		if value.IsArray() {
			rules = value.Array()
		}
		for _, rule := range rules {
			src := rule.String()
			if rule.IsObject() {
				src = rule.Get("threshold").String()
			} else if rule.Type != gjson.String {
				err = errext.NewConfigError("metric %q: threshold must be a string, got %s", mt.Metric, rule.Raw)
				return false
			}
			var th Threshold
			if th, err = ParseThreshold(src); err != nil {
				err = errext.NewConfigError("metric %q: %w", mt.Metric, err)
				return false
			}
			mt.Thresholds = append(mt.Thresholds, th)
		}
		result = append(result, mt)
		return true
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ThresholdViolation is returned when a rule does not hold for the final
// metrics of a run.
type ThresholdViolation struct {
	Metric    string
	Threshold string
	Value     float64
}

func (v *ThresholdViolation) Error() string {
	return fmt.Sprintf("threshold %q on metric %q has been crossed (observed value %g)", v.Threshold, v.Metric, v.Value)
}

// ExitCode implements errext.HasExitCode.
func (v *ThresholdViolation) ExitCode() exitcodes.ExitCode {
	return exitcodes.ThresholdsHaveFailed
}

var _ errext.HasExitCode = &ThresholdViolation{}

// Result is the outcome of one rule against a collector snapshot.
type Result struct {
	Metric    string
	Threshold Threshold
	Value     float64
	// Observed is false when the metric has no data for the aggregation;
	// such rules always pass.
	Observed bool
	Passed   bool
}

// Results evaluates every rule, in declaration order.
func (ts Thresholds) Results(c *Collector) []Result {
	var results []Result
	for _, mt := range ts {
		for _, th := range mt.Thresholds {
			value, observed := aggregate(c, mt.Metric, th)
			results = append(results, Result{
				Metric:    mt.Metric,
				Threshold: th,
				Value:     value,
				Observed:  observed,
				Passed:    !observed || th.Passes(value),
			})
		}
	}
	return results
}

// Evaluate returns a *ThresholdViolation for the first rule, in declaration
// order, that does not hold. Metrics without observations never violate.
func (ts Thresholds) Evaluate(c *Collector) error {
	for _, r := range ts.Results(c) {
		if !r.Passed {
			return &ThresholdViolation{Metric: r.Metric, Threshold: r.Threshold.Source, Value: r.Value}
		}
	}
	return nil
}

// aggregate extracts the value the rule compares against. The second return
// value is false when the metric has no observations usable by the rule.
func aggregate(c *Collector, metric string, th Threshold) (float64, bool) {
	if c.IsCheck(metric) {
		rate, total := c.Rate(metric)
		switch th.Aggregation {
		case AggregationRate:
			return rate, total > 0
		case AggregationCount:
			return float64(total), total > 0
		}
		return 0, false
	}

	if summary := c.TrendSummary(metric); summary.Count > 0 {
		switch th.Aggregation {
		case AggregationCount:
			return float64(summary.Count), true
		case AggregationAvg:
			return summary.Avg, true
		case AggregationMin:
			return summary.Min, true
		case AggregationMax:
			return summary.Max, true
		case AggregationMed:
			return summary.Med, true
		}
		if th.Percentile > 0 || strings.HasPrefix(th.Aggregation, "p(") {
			return c.TrendPercentile(metric, th.Percentile), true
		}
		return 0, false
	}

	if th.Aggregation == AggregationCount && c.HasCounter(metric) {
		return float64(c.CounterValue(metric)), true
	}
	return 0, false
}
