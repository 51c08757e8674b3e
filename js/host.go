package js

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/vuflow/errext"
)

// installHostAPI sets the global functions scripts can use.
func (s *Script) installHostAPI() error {
	console := s.rt.NewObject()
	for name, level := range map[string]logrus.Level{
		"log":   logrus.InfoLevel,
		"info":  logrus.InfoLevel,
		"debug": logrus.DebugLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
	} {
		if err := console.Set(name, s.consoleFn(level)); err != nil {
			return err
		}
	}

	return s.setGlobals(map[string]interface{}{
		"__VU":             0,
		"__ITER":           0,
		"console":          console,
		"check":            s.check,
		"sleep":            s.sleep,
		"fail":             s.fail,
		"abort":            s.abort,
		"currentVuId":      s.currentVUID,
		"currentIteration": s.currentIteration,
		"sharedData":       s.sharedData,
	})
}

// check runs every assertion of sets against value and records each result
// under its name and in the checks metric. It returns whether all of them passed.
func (s *Script) check(call goja.FunctionCall) goja.Value {
	value, sets := call.Argument(0), call.Argument(1)
	if goja.IsUndefined(sets) || goja.IsNull(sets) {
		return s.rt.ToValue(true)
	}

	obj := sets.ToObject(s.rt)
	passed := true
	for _, name := range obj.Keys() {
		result := obj.Get(name)
		if fn, ok := goja.AssertFunction(result); ok {
			var err error
			if result, err = fn(goja.Undefined(), value); err != nil {
				s.throw(err)
			}
		}
		ok := result.ToBoolean()
		s.loader.metrics.AddCheckResult(name, ok)
		if !ok {
			passed = false
			s.logger.WithField("check", name).Debug("Check failed")
		}
	}
	return s.rt.ToValue(passed)
}

// sleep pauses the script, returning early when the call is interrupted.
func (s *Script) sleep(seconds float64) {
	d := time.Duration(seconds * float64(time.Second))
	if d <= 0 {
		return
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *Script) fail(msg string) {
	s.throw(errors.New(msg))
}

// abort stops the whole test run and interrupts this instance right away.
func (s *Script) abort(call goja.FunctionCall) goja.Value {
	reason := errext.AbortTest
	if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		reason = arg.String()
	}
	if s.ec != nil {
		s.ec.AbortTest(reason)
	}
	s.rt.Interrupt(&errext.InterruptError{Reason: reason})
	return goja.Undefined()
}

func (s *Script) currentVUID() uint64 {
	if s.ec == nil {
		return 0
	}
	return s.ec.VUID
}

func (s *Script) currentIteration() int64 {
	if s.ec == nil {
		return 0
	}
	return s.ec.Iteration
}

// sharedData returns the value generated by the first call with that name in
// any instance of the run. Every caller gets its own deep copy.
func (s *Script) sharedData(name string, generator goja.Value) goja.Value {
	fn, ok := goja.AssertFunction(generator)
	if !ok {
		s.throw(errors.New("sharedData() needs a function as its second argument"))
	}
	shared, err := s.loader.shared.GetOrCreateShare(name, func() (interface{}, error) {
		v, err := fn(goja.Undefined())
		if err != nil {
			return nil, err
		}
		return s.stringify(v)
	})
	if err != nil {
		s.throw(err)
	}
	data, _ := shared.(json.RawMessage)
	if data == nil {
		return goja.Undefined()
	}
	v, err := s.parseJSON(data)
	if err != nil {
		s.throw(err)
	}
	return v
}

func (s *Script) consoleFn(level logrus.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = s.formatArg(arg)
		}
		logger := s.logger.WithField("source", "console")
		if s.ec != nil {
			logger = logger.WithFields(logrus.Fields{"vu": s.ec.VUID, "iteration": s.ec.Iteration})
		}
		logger.Log(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// formatArg renders objects as JSON and everything else as a string.
func (s *Script) formatArg(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() != "Function" && obj.ClassName() != "Error" {
		if data, err := s.stringify(v); err == nil && data != nil {
			return string(data)
		}
	}
	return v.String()
}
