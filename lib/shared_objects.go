package lib

import "sync"

// SharedObjects is a store of read-only values shared between all script
// instances of a run. Each value is built at most once, by the first caller
// asking for its name.
type SharedObjects struct {
	mu   sync.Mutex
	data map[string]*sharedEntry
}

type sharedEntry struct {
	once  sync.Once
	value interface{}
	err   error
}

// NewSharedObjects returns an empty store.
func NewSharedObjects() *SharedObjects {
	return &SharedObjects{data: make(map[string]*sharedEntry)}
}

// GetOrCreateShare returns the value stored under name, calling generator to
// build it if this is the first request. Concurrent first requests for the
// same name wait for a single generator call; requests for other names are
// not blocked by it. A generator error is returned to every caller.
func (s *SharedObjects) GetOrCreateShare(name string, generator func() (interface{}, error)) (interface{}, error) {
	s.mu.Lock()
	entry, ok := s.data[name]
	if !ok {
		entry = &sharedEntry{}
		s.data[name] = entry
	}
	s.mu.Unlock()

	entry.once.Do(func() {
		entry.value, entry.err = generator()
	})
	return entry.value, entry.err
}
