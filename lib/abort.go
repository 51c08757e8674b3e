package lib

import (
	"context"
	"errors"
	"sync"

	"github.com/liuxd6825/vuflow/errext"
)

// AbortSignal is the run-wide, write-once abort flag. Aborting cancels the
// context every executor derives its own contexts from.
type AbortSignal struct {
	ctx    context.Context //nolint:containedctx
	cancel context.CancelCauseFunc

	once sync.Once
}

// NewAbortSignal returns a signal whose context is a child of parent.
func NewAbortSignal(parent context.Context) *AbortSignal {
	ctx, cancel := context.WithCancelCause(parent)
	return &AbortSignal{ctx: ctx, cancel: cancel}
}

// Abort sets the flag. The first caller wins; later calls are no-ops.
func (a *AbortSignal) Abort(reason string) {
	a.abort(&errext.InterruptError{Reason: reason})
}

// AbortExternal is like Abort, for stops requested from outside the script.
func (a *AbortSignal) AbortExternal(reason string) {
	a.abort(&errext.InterruptError{Reason: reason, External: true})
}

func (a *AbortSignal) abort(err *errext.InterruptError) {
	if err.Reason == "" {
		err.Reason = errext.AbortTest
	}
	a.once.Do(func() { a.cancel(err) })
}

// Aborted reports whether Abort was called.
func (a *AbortSignal) Aborted() bool {
	return a.Err() != nil
}

// Err returns the *errext.InterruptError the run was aborted with, or nil.
func (a *AbortSignal) Err() error {
	var ierr *errext.InterruptError
	if errors.As(context.Cause(a.ctx), &ierr) {
		return ierr
	}
	return nil
}

// Context is cancelled when the run is aborted or the parent is done.
func (a *AbortSignal) Context() context.Context {
	return a.ctx
}

// Done is a shorthand for Context().Done().
func (a *AbortSignal) Done() <-chan struct{} {
	return a.ctx.Done()
}

// Release frees the resources held by the signal without aborting the run.
func (a *AbortSignal) Release() {
	a.cancel(context.Canceled)
}
