package js

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/vuflow/errext"
	"github.com/liuxd6825/vuflow/lib"
	"github.com/liuxd6825/vuflow/lib/consts"
)

// Script is one instance of a script, with its own goja runtime. It must
// only be used from one goroutine at a time.
type Script struct {
	loader *Loader
	path   string
	rt     *goja.Runtime
	logger logrus.FieldLogger

	// set for the duration of a call into the runtime
	ctx context.Context //nolint:containedctx
	ec  *lib.ExecutionContext
}

var _ lib.Script = &Script{}

func newScript(ctx context.Context, l *Loader, path string, program *goja.Program) (*Script, error) {
	rt := goja.New()
	s := &Script{
		loader: l,
		path:   path,
		rt:     rt,
		logger: l.logger.WithField("script", path),
	}

	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := s.setGlobals(map[string]interface{}{"module": module, "exports": exports}); err != nil {
		return nil, err
	}
	if err := s.installHostAPI(); err != nil {
		return nil, err
	}

	if _, err := s.run(ctx, nil, func() (goja.Value, error) { return rt.RunProgram(program) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) setGlobals(values map[string]interface{}) error {
	for name, value := range values {
		if err := s.rt.Set(name, value); err != nil {
			return fmt.Errorf("couldn't set %s: %w", name, err)
		}
	}
	return nil
}

// run calls fn with the runtime interrupted as soon as ctx is done.
func (s *Script) run(
	ctx context.Context, ec *lib.ExecutionContext, fn func() (goja.Value, error),
) (goja.Value, error) {
	s.ctx, s.ec = ctx, ec
	defer func() { s.ctx, s.ec = nil, nil }()

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(interrupted)
		s.rt.Interrupt(context.Cause(ctx))
	})
	v, err := fn()
	if !stop() {
		<-interrupted
	}
	s.rt.ClearInterrupt()
	return v, wrapError(err)
}

// export looks name up in module.exports, then in the global scope.
func (s *Script) export(name string) goja.Value {
	if module := s.rt.Get("module"); module != nil && !goja.IsUndefined(module) && !goja.IsNull(module) {
		if exports := module.ToObject(s.rt).Get("exports"); exports != nil && !goja.IsUndefined(exports) && !goja.IsNull(exports) {
			if v := exports.ToObject(s.rt).Get(name); v != nil && !goja.IsUndefined(v) {
				return v
			}
		}
	}
	if v := s.rt.GlobalObject().Get(name); v != nil && !goja.IsUndefined(v) {
		return v
	}
	return nil
}

// ExportedOptions returns the exported options as JSON. Key order is kept.
func (s *Script) ExportedOptions() (json.RawMessage, error) {
	v := s.export(consts.Options)
	if v == nil {
		return nil, nil
	}
	return s.stringify(v)
}

// HasExport reports whether the script exports a function with that name.
func (s *Script) HasExport(name string) bool {
	_, ok := goja.AssertFunction(s.export(name))
	return ok
}

// CallExport calls the exported function with data, parsed from JSON, as its
// only argument and returns its result as JSON.
func (s *Script) CallExport(
	ctx context.Context, ec *lib.ExecutionContext, name string, data json.RawMessage,
) (json.RawMessage, error) {
	fn, ok := goja.AssertFunction(s.export(name))
	if !ok {
		return nil, fmt.Errorf("function %q is not exported by %s", name, s.path)
	}

	arg := goja.Undefined()
	if len(data) > 0 {
		var err error
		if arg, err = s.parseJSON(data); err != nil {
			return nil, fmt.Errorf("couldn't pass the setup data: %w", err)
		}
	}
	if err := s.setGlobals(map[string]interface{}{"__VU": ec.VUID, "__ITER": ec.Iteration}); err != nil {
		return nil, err
	}

	v, err := s.run(ctx, ec, func() (goja.Value, error) { return fn(goja.Undefined(), arg) })
	if err != nil {
		return nil, err
	}
	return s.stringify(v)
}

func (s *Script) jsonFn(name string) goja.Callable {
	fn, _ := goja.AssertFunction(s.rt.Get("JSON").ToObject(s.rt).Get(name))
	return fn
}

// stringify returns v as JSON, or nil for undefined and functions.
func (s *Script) stringify(v goja.Value) (json.RawMessage, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, nil
	}
	res, err := s.jsonFn("stringify")(goja.Undefined(), v)
	if err != nil {
		return nil, wrapError(err)
	}
	if goja.IsUndefined(res) {
		return nil, nil
	}
	return json.RawMessage(res.String()), nil
}

func (s *Script) parseJSON(data []byte) (goja.Value, error) {
	v, err := s.jsonFn("parse")(goja.Undefined(), s.rt.ToValue(string(data)))
	return v, wrapError(err)
}

// throw a JS error; avoids re-wrapping exceptions and keeps interruptions
// going.
func (s *Script) throw(err error) {
	var (
		exc  *goja.Exception
		ierr *goja.InterruptedError
	)
	switch {
	case errors.As(err, &ierr):
		panic(ierr)
	case errors.As(err, &exc):
		panic(exc)
	}
	panic(s.rt.NewGoError(err))
}

// scriptException is an uncaught exception thrown by script code.
type scriptException struct {
	exc *goja.Exception
}

var _ errext.Exception = &scriptException{}

func (e *scriptException) Error() string {
	return e.exc.Error()
}

// StackTrace returns the message of the exception with its JS stack.
func (e *scriptException) StackTrace() string {
	return e.exc.String()
}

func (e *scriptException) Unwrap() error {
	return e.exc
}

// wrapError unwraps interruptions into the error they were caused by.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var ierr *goja.InterruptedError
	if errors.As(err, &ierr) {
		if e, ok := ierr.Value().(error); ok {
			return e
		}
		return fmt.Errorf("script interrupted: %v", ierr.Value())
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return &scriptException{exc: exc}
	}
	return err
}
