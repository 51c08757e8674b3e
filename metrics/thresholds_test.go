package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/vuflow/errext"
	"github.com/liuxd6825/vuflow/errext/exitcodes"
)

func TestParseThreshold(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		src     string
		exp     Threshold
		wantErr bool
	}{
		{src: "rate<0.01", exp: Threshold{Source: "rate<0.01", Aggregation: "rate", Operator: "<", Value: 0.01}},
		{src: " p(95) <= 500 ", exp: Threshold{Source: "p(95) <= 500", Aggregation: "p(95)", Percentile: 95, Operator: "<=", Value: 500}},
		{src: "p( 99.9 )>1", exp: Threshold{Source: "p( 99.9 )>1", Aggregation: "p(99.9)", Percentile: 99.9, Operator: ">", Value: 1}},
		{src: "count===3", exp: Threshold{Source: "count===3", Aggregation: "count", Operator: "===", Value: 3}},
		{src: "avg!=2", exp: Threshold{Source: "avg!=2", Aggregation: "avg", Operator: "!=", Value: 2}},
		{src: "med==1.5", exp: Threshold{Source: "med==1.5", Aggregation: "med", Operator: "==", Value: 1.5}},
		{src: "max>=10", exp: Threshold{Source: "max>=10", Aggregation: "max", Operator: ">=", Value: 10}},
		{src: "", wantErr: true},
		{src: "foo<1", wantErr: true},
		{src: "rate<<1", wantErr: true},
		{src: "rate<abc", wantErr: true},
		{src: "rate 0.1", wantErr: true},
		{src: "p(101)<1", wantErr: true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.src, func(t *testing.T) {
			t.Parallel()
			th, err := ParseThreshold(tc.src)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exp, th)
		})
	}
}

func TestThresholdOperators(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		op       string
		observed float64
		passes   bool
	}{
		{">", 1, true}, {">", 0.01, false},
		{">=", 0.01, true}, {">=", 0, false},
		{"<", 0.001, true}, {"<", 0.01, false},
		{"<=", 0.01, true}, {"<=", 1, false},
		{"==", 0.01, true}, {"===", 0.01, true}, {"==", 1, false},
		{"!=", 1, true}, {"!=", 0.01, false},
	}
	for _, tc := range testCases {
		th := Threshold{Operator: tc.op, Value: 0.01}
		assert.Equal(t, tc.passes, th.Passes(tc.observed), "%g %s 0.01", tc.observed, tc.op)
	}
}

func TestParseThresholds(t *testing.T) {
	t.Parallel()

	doc := gjson.Parse(`{
		"zeta": ["rate<0.1"],
		"iteration_duration": ["p(95)<500", {"threshold": "avg<200"}],
		"alpha": "count>1"
	}`)
	ts, err := ParseThresholds(doc)
	require.NoError(t, err)
	require.Len(t, ts, 3)
	assert.Equal(t, "zeta", ts[0].Metric)
	assert.Equal(t, "iteration_duration", ts[1].Metric)
	assert.Equal(t, "avg<200", ts[1].Thresholds[1].Source)
	assert.Equal(t, "alpha", ts[2].Metric)

	empty, err := ParseThresholds(gjson.Result{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, bad := range []string{`[]`, `{"m": ["nope"]}`, `{"m": [5]}`} {
		_, err := ParseThresholds(gjson.Parse(bad))
		var cerr *errext.ConfigError
		assert.True(t, errors.As(err, &cerr), bad)
	}
}

func TestThresholdsEvaluate(t *testing.T) {
	t.Parallel()

	parse := func(t *testing.T, src string) Thresholds {
		ts, err := ParseThresholds(gjson.Parse(src))
		require.NoError(t, err)
		return ts
	}

	t.Run("rate over checks", func(t *testing.T) {
		t.Parallel()
		c := NewCollector()
		for i := 0; i < 100; i++ {
			c.AddCheck(Checks, i != 0)
		}
		assert.NoError(t, parse(t, `{"checks": ["rate<0.02"]}`).Evaluate(c))

		err := parse(t, `{"checks": ["rate<0.005"]}`).Evaluate(c)
		var v *ThresholdViolation
		require.ErrorAs(t, err, &v)
		assert.Equal(t, "checks", v.Metric)
		assert.Equal(t, "rate<0.005", v.Threshold)
		assert.Equal(t, 0.01, v.Value)
		assert.Equal(t, exitcodes.ThresholdsHaveFailed, v.ExitCode())
	})

	t.Run("rate boundaries", func(t *testing.T) {
		t.Parallel()
		testCases := []struct {
			passes, fails int
			violated      bool
			rate          float64
		}{
			{passes: 1, fails: 1, violated: true, rate: 0.5},
			{passes: 19, fails: 1, violated: false, rate: 0.05},
			{passes: 9, fails: 1, violated: true, rate: 0.1},
		}
		for _, tc := range testCases {
			c := NewCollector()
			for i := 0; i < tc.passes; i++ {
				c.AddCheck(Checks, true)
			}
			for i := 0; i < tc.fails; i++ {
				c.AddCheck(Checks, false)
			}
			err := parse(t, `{"checks": "rate<0.1"}`).Evaluate(c)
			if !tc.violated {
				assert.NoError(t, err, "%d/%d", tc.passes, tc.fails)
				continue
			}
			var v *ThresholdViolation
			require.ErrorAs(t, err, &v, "%d/%d", tc.passes, tc.fails)
			assert.InDelta(t, tc.rate, v.Value, 1e-9)
		}
	})

	t.Run("zero observations never violate", func(t *testing.T) {
		t.Parallel()
		c := NewCollector()
		assert.NoError(t, parse(t, `{"checks": ["rate<0"], "iteration_duration": ["p(95)<0"], "iterations": ["count>1"]}`).Evaluate(c))
		results := parse(t, `{"checks": ["rate<0"]}`).Results(c)
		require.Len(t, results, 1)
		assert.False(t, results[0].Observed)
		assert.True(t, results[0].Passed)
	})

	t.Run("first violation in declaration order", func(t *testing.T) {
		t.Parallel()
		c := NewCollector()
		c.AddCounter(Iterations, 5)
		for i := 1; i <= 10; i++ {
			c.AddTrend(IterationDuration, float64(i*10))
		}
		ts := parse(t, `{
			"iteration_duration": ["max<1000", "avg<10", "min>50"],
			"iterations": ["count<1"]
		}`)
		var v *ThresholdViolation
		require.ErrorAs(t, ts.Evaluate(c), &v)
		assert.Equal(t, "avg<10", v.Threshold)
		assert.Equal(t, 55.0, v.Value)

		results := ts.Results(c)
		require.Len(t, results, 4)
		assert.True(t, results[0].Passed)
		assert.False(t, results[1].Passed)
		assert.False(t, results[2].Passed)
		assert.False(t, results[3].Passed)
	})

	t.Run("trend aggregations", func(t *testing.T) {
		t.Parallel()
		c := NewCollector()
		for i := 1; i <= 100; i++ {
			c.AddTrend("t", float64(i))
		}
		assert.NoError(t, parse(t, `{"t": ["count==100", "min==1", "max==100", "p(95)<97", "p(99)>=98", "med<=51"]}`).Evaluate(c))
	})
}
