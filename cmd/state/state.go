// Package state contains the process-wide state shared by every vuflow
// command: the filesystem, the environment, the standard streams and the
// logger. Tests swap every piece of it for an in-memory version.
package state

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Writer is an output stream guarded by the process-wide output mutex.
type Writer struct {
	Mutex  *sync.Mutex
	Writer io.Writer
	IsTTY  bool
}

// Write writes p while holding the output mutex.
func (w *Writer) Write(p []byte) (int, error) {
	w.Mutex.Lock()
	defer w.Mutex.Unlock()
	return w.Writer.Write(p)
}

// GlobalState holds what every command needs from the process. Nothing in
// vuflow should reach for os.Stdout, os.Args or os.Exit directly.
type GlobalState struct {
	Ctx context.Context

	FS         afero.Fs
	Getwd      func() (string, error)
	BinaryName string
	CmdArgs    []string
	Env        map[string]string

	DefaultFlags, Flags GlobalOptions

	OutMutex       *sync.Mutex
	Stdout, Stderr *Writer
	Stdin          io.Reader

	OSExit       func(int)
	SignalNotify func(chan<- os.Signal, ...os.Signal)
	SignalStop   func(chan<- os.Signal)

	Logger *logrus.Logger
	// FallbackLogger writes to stderr even when Logger is redirected, for
	// errors of the redirection itself.
	FallbackLogger logrus.FieldLogger
}

// NewGlobalState returns the state of the real process.
func NewGlobalState(ctx context.Context) *GlobalState {
	isDumbTerm := os.Getenv("TERM") == "dumb"
	stdoutTTY := !isDumbTerm && isTerminal(os.Stdout)
	stderrTTY := !isDumbTerm && isTerminal(os.Stderr)
	outMutex := &sync.Mutex{}
	stdout := &Writer{Mutex: outMutex, Writer: colorable.NewColorable(os.Stdout), IsTTY: stdoutTTY}
	stderr := &Writer{Mutex: outMutex, Writer: colorable.NewColorable(os.Stderr), IsTTY: stderrTTY}

	env := BuildEnvMap(os.Environ())
	logger := &logrus.Logger{
		Out: stderr,
		Formatter: &logrus.TextFormatter{
			ForceColors:   stderrTTY,
			DisableColors: !stderrTTY,
		},
		Hooks: make(logrus.LevelHooks),
		Level: logrus.InfoLevel,
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		logger.WithError(err).Warn("could not get the config directory")
		configDir = ".config"
	}
	defaultFlags := GetDefaultGlobalOptions(configDir)

	return &GlobalState{
		Ctx:          ctx,
		FS:           afero.NewOsFs(),
		Getwd:        os.Getwd,
		BinaryName:   "vuflow",
		CmdArgs:      os.Args,
		Env:          env,
		DefaultFlags: defaultFlags,
		Flags:        consolidateGlobalFlags(defaultFlags, env),
		OutMutex:     outMutex,
		Stdout:       stdout,
		Stderr:       stderr,
		Stdin:        os.Stdin,
		OSExit:       os.Exit,
		SignalNotify: signal.Notify,
		SignalStop:   signal.Stop,
		Logger:       logger,
		FallbackLogger: &logrus.Logger{
			Out:       stderr,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
	}
}

// BuildEnvMap returns a map from raw environment variable pairs.
func BuildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
