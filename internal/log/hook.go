// Package log contains the logrus hooks and helpers behind the --log-output
// and --log-format flags.
package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

// AsyncHook is a logrus hook that hands entries off to a background
// goroutine running Listen. Listen returns once ctx is done and every
// pending entry is written.
type AsyncHook interface {
	logrus.Hook
	Listen(ctx context.Context)
}

// RawFormatter prints only the message of an entry.
type RawFormatter struct{}

// Format renders a single log entry.
func (RawFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}
