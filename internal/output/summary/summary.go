// Package summary renders the end-of-test summary, as colored text for the
// terminal and as JSON for --summary-export.
package summary

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/liuxd6825/vuflow/metrics"
)

const (
	succMark = "✓"
	failMark = "✗"
	sectPref = "█"
)

// Data is everything a summary is rendered from.
type Data struct {
	Metrics    *metrics.Collector
	Thresholds []metrics.Result
	Duration   time.Duration
	// Aborted is set when the run was stopped before the scenarios ended.
	Aborted bool
}

type palette struct {
	std, succ, fail, gray, value, extra *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		std:   color.New(),
		succ:  color.New(color.FgGreen),
		fail:  color.New(color.FgRed),
		gray:  color.New(color.Faint),
		value: color.New(color.FgCyan),
		extra: color.New(color.FgCyan, color.Faint),
	}
	for _, c := range []*color.Color{p.std, p.succ, p.fail, p.gray, p.value, p.extra} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return p
}

var trendColumns = []struct {
	key string
	get func(metrics.TrendSummary) float64
}{
	{"avg", func(s metrics.TrendSummary) float64 { return s.Avg }},
	{"min", func(s metrics.TrendSummary) float64 { return s.Min }},
	{"med", func(s metrics.TrendSummary) float64 { return s.Med }},
	{"max", func(s metrics.TrendSummary) float64 { return s.Max }},
	{"p(90)", func(s metrics.TrendSummary) float64 { return s.P90 }},
	{"p(95)", func(s metrics.TrendSummary) float64 { return s.P95 }},
}

// Render writes the text summary of a run to w.
func Render(w io.Writer, data Data, noColor bool) error {
	p := newPalette(noColor)
	var b strings.Builder

	if len(data.Thresholds) > 0 {
		b.WriteString("\n  " + sectPref + " THRESHOLDS\n\n")
		renderThresholds(&b, p, data.Thresholds)
	}
	if results := data.Metrics.CheckResults(); len(results) > 0 {
		b.WriteString("\n  " + sectPref + " CHECKS\n\n")
		renderChecks(&b, p, results)
	}
	b.WriteString("\n  " + sectPref + " TOTAL RESULTS\n\n")
	renderMetrics(&b, p, data)

	status := "test finished"
	if data.Aborted {
		status = "test aborted"
	}
	fmt.Fprintf(&b, "\nrunning (%s), %s\n", humanizeDuration(data.Duration), status)

	_, err := io.WriteString(w, b.String())
	return err
}

func renderThresholds(b *strings.Builder, p palette, results []metrics.Result) {
	var last string
	for _, r := range results {
		if r.Metric != last {
			if last != "" {
				b.WriteString("\n")
			}
			b.WriteString("    " + r.Metric + "\n")
			last = r.Metric
		}
		mark, c := succMark, p.succ
		if !r.Passed {
			mark, c = failMark, p.fail
		}
		value := p.gray.Sprint("no data")
		if r.Observed {
			value = r.Threshold.Aggregation + "=" + p.value.Sprint(formatAggregate(r))
		}
		fmt.Fprintf(b, "    %s %s\n", c.Sprintf("%s '%s'", mark, r.Threshold.Source), value)
	}
}

func renderChecks(b *strings.Builder, p palette, results []metrics.CheckResult) {
	for _, r := range results {
		if r.Fails == 0 {
			b.WriteString("    " + p.succ.Sprintf("%s %s", succMark, r.Name) + "\n")
			continue
		}
		b.WriteString("    " + p.fail.Sprintf("%s %s", failMark, r.Name) + "\n")
		fmt.Fprintf(b, "     %s\n", p.fail.Sprintf("↳  %d%% %s %d / %s %d",
			100*r.Passes/(r.Passes+r.Fails), succMark, r.Passes, failMark, r.Fails))
	}
}

type metricLine struct {
	name  string
	value string
	extra string
}

func renderMetrics(b *strings.Builder, p palette, data Data) {
	c := data.Metrics
	var lines []metricLine

	for _, name := range c.CounterNames() {
		if c.IsCheckCounter(name) {
			continue
		}
		v := c.CounterValue(name)
		extra := ""
		if secs := data.Duration.Seconds(); secs > 0 {
			extra = strconv.FormatFloat(float64(v)/secs, 'f', 2, 64) + "/s"
		}
		lines = append(lines, metricLine{name: name, value: strconv.FormatUint(v, 10), extra: extra})
	}
	for _, name := range c.CheckNames() {
		pass, fail := c.CheckCounts(name)
		rate, _ := c.Rate(name)
		lines = append(lines, metricLine{
			name:  name,
			value: formatPercent(1 - rate),
			extra: fmt.Sprintf("%s %d %s %d", succMark, pass, failMark, fail),
		})
	}
	for _, name := range c.TrendNames() {
		s := c.TrendSummary(name)
		cols := make([]string, len(trendColumns))
		for i, col := range trendColumns {
			cols[i] = col.key + "=" + p.value.Sprint(humanizeMillis(col.get(s)))
		}
		lines = append(lines, metricLine{name: name, value: strings.Join(cols, " ")})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].name < lines[j].name })

	nameMax, valueMax := 0, 0
	for _, l := range lines {
		nameMax = max(nameMax, utf8.RuneCountInString(l.name))
		if l.extra != "" {
			valueMax = max(valueMax, utf8.RuneCountInString(l.value))
		}
	}
	for _, l := range lines {
		dots := p.gray.Sprint(strings.Repeat(".", nameMax-utf8.RuneCountInString(l.name)+3) + ":")
		if l.extra == "" {
			fmt.Fprintf(b, "    %s%s %s\n", l.name, dots, l.value)
			continue
		}
		pad := strings.Repeat(" ", valueMax-utf8.RuneCountInString(l.value))
		fmt.Fprintf(b, "    %s%s %s%s %s\n", l.name, dots, p.value.Sprint(l.value), pad, p.extra.Sprint(l.extra))
	}
}

func formatAggregate(r metrics.Result) string {
	if r.Threshold.Aggregation == "rate" {
		return formatPercent(r.Value)
	}
	if r.Threshold.Aggregation == "count" {
		return strconv.FormatFloat(r.Value, 'f', -1, 64)
	}
	return humanizeMillis(r.Value)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
}

// humanizeMillis renders a millisecond value as a rounded duration.
func humanizeMillis(v float64) string {
	return humanizeDuration(time.Duration(v * float64(time.Millisecond)))
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		d = d.Round(time.Second)
	case d >= time.Second:
		d = d.Round(time.Millisecond)
	default:
		d = d.Round(time.Microsecond)
	}
	return d.String()
}
