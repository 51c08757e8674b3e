package summary

import (
	"encoding/json"

	"github.com/liuxd6825/vuflow/metrics"
)

type checkExport struct {
	Passes uint64  `json:"passes"`
	Fails  uint64  `json:"fails"`
	Rate   float64 `json:"rate"`
}

type thresholdExport struct {
	Metric    string  `json:"metric"`
	Threshold string  `json:"threshold"`
	Value     float64 `json:"value"`
	Observed  bool    `json:"observed"`
	Passed    bool    `json:"ok"`
}

type export struct {
	DurationMs float64                         `json:"duration_ms"`
	Aborted    bool                            `json:"aborted"`
	Counters   map[string]uint64               `json:"counters"`
	Trends     map[string]metrics.TrendSummary `json:"trends"`
	Rates      map[string]checkExport          `json:"rates"`
	Checks     map[string]checkExport          `json:"checks"`
	Thresholds []thresholdExport               `json:"thresholds"`
}

// JSON returns the machine-readable summary of a run. Rates are failure
// rates, as thresholds see them.
func JSON(data Data) ([]byte, error) {
	c := data.Metrics
	out := export{
		DurationMs: float64(data.Duration) / 1e6,
		Aborted:    data.Aborted,
		Counters:   make(map[string]uint64),
		Trends:     make(map[string]metrics.TrendSummary),
		Rates:      make(map[string]checkExport),
		Checks:     make(map[string]checkExport),
		Thresholds: make([]thresholdExport, 0, len(data.Thresholds)),
	}
	for _, name := range c.CounterNames() {
		if !c.IsCheckCounter(name) {
			out.Counters[name] = c.CounterValue(name)
		}
	}
	for _, name := range c.TrendNames() {
		out.Trends[name] = c.TrendSummary(name)
	}
	for _, name := range c.CheckNames() {
		pass, fail := c.CheckCounts(name)
		rate, _ := c.Rate(name)
		out.Rates[name] = checkExport{Passes: pass, Fails: fail, Rate: rate}
	}
	for _, r := range c.CheckResults() {
		out.Checks[r.Name] = checkExport{
			Passes: r.Passes, Fails: r.Fails,
			Rate: float64(r.Fails) / float64(r.Passes+r.Fails),
		}
	}
	for _, r := range data.Thresholds {
		out.Thresholds = append(out.Thresholds, thresholdExport{
			Metric: r.Metric, Threshold: r.Threshold.Source,
			Value: r.Value, Observed: r.Observed, Passed: r.Passed,
		})
	}
	return json.MarshalIndent(out, "", "  ")
}
