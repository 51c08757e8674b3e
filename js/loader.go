// Package js runs test scripts written in JavaScript with goja.
package js

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/liuxd6825/vuflow/lib"
	"github.com/liuxd6825/vuflow/metrics"
)

// Loader compiles scripts from a filesystem and creates runtime instances
// for them. Every script path is compiled once; every instance gets its own
// goja runtime.
type Loader struct {
	fs      afero.Fs
	logger  logrus.FieldLogger
	metrics *metrics.Collector
	shared  *lib.SharedObjects

	mu       sync.Mutex
	programs map[string]*compiled
}

type compiled struct {
	once    sync.Once
	program *goja.Program
	err     error
}

var _ lib.ScriptLoader = &Loader{}

// NewLoader returns a loader reading scripts from fs. Checks are recorded in
// collector and values created with sharedData are shared between all the
// instances the loader creates.
func NewLoader(fs afero.Fs, logger logrus.FieldLogger, collector *metrics.Collector) *Loader {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Loader{
		fs:       fs,
		logger:   logger,
		metrics:  collector,
		shared:   lib.NewSharedObjects(),
		programs: make(map[string]*compiled),
	}
}

// LoadScript returns a new instance of the script at path, with its top
// level code already run.
func (l *Loader) LoadScript(ctx context.Context, path string) (lib.Script, error) {
	program, err := l.compile(path)
	if err != nil {
		return nil, err
	}
	return newScript(ctx, l, path, program)
}

func (l *Loader) compile(path string) (*goja.Program, error) {
	path = filepath.Clean(path)
	l.mu.Lock()
	c, ok := l.programs[path]
	if !ok {
		c = &compiled{}
		l.programs[path] = c
	}
	l.mu.Unlock()

	c.once.Do(func() {
		var src []byte
		if src, c.err = afero.ReadFile(l.fs, path); c.err != nil {
			c.err = fmt.Errorf("couldn't read the script: %w", c.err)
			return
		}
		c.program, c.err = goja.Compile(path, string(src), false)
	})
	return c.program, c.err
}
