package errext

import "errors"

// Exception is an error thrown by user script code. It carries the script
// stack trace that lead to it.
type Exception interface {
	error
	StackTrace() string
}

// Format formats the given error as a message and a map of log fields.
// Script exceptions are rendered with their stack trace and hints are added
// as the "hint" field.
func Format(err error) (string, map[string]interface{}) {
	if err == nil {
		return "", nil
	}

	errText := err.Error()
	var xerr Exception
	if errors.As(err, &xerr) {
		errText = xerr.StackTrace()
	}

	fields := make(map[string]interface{})
	var herr HasHint
	if errors.As(err, &herr) {
		fields["hint"] = herr.Hint()
	}
	var verr *VUFatalError
	if errors.As(err, &verr) {
		fields["scenario"] = verr.Scenario
	}

	return errText, fields
}
