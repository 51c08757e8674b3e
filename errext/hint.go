package errext

import "errors"

// HasHint is implemented by errors that carry a human-readable suggestion on
// how to fix them.
type HasHint interface {
	error
	Hint() string
}

// WithHint attaches a hint to err. Hints stack: wrapping an error that
// already has one yields "new hint (old hint)".
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return withHint{err, hint}
}

type withHint struct {
	error
	hint string
}

func (wh withHint) Unwrap() error {
	return wh.error
}

func (wh withHint) Hint() string {
	var inner HasHint
	if errors.As(wh.error, &inner) {
		return wh.hint + " (" + inner.Hint() + ")"
	}
	return wh.hint
}

var _ HasHint = withHint{}
