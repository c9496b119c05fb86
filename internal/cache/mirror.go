package cache

import "sync"

// Mirror is the durable key-value store backing a Cache across restarts.
// A Mirror may be shared by several Cache instances; the clear-signal key
// is the only coordination between them.
type Mirror interface {
	// Get returns the stored bytes for key, or false when absent.
	Get(key string) ([]byte, bool)
	// Set stores value under key, overwriting any previous value.
	Set(key string, value []byte) error
	// Delete removes key; missing keys are a no-op.
	Delete(key string)
	// Clear removes every key, including the clear signal.
	Clear() error
}

// MapMirror is an in-memory Mirror. It is the default when no mirror
// directory is configured, and the way tests simulate sibling caches
// sharing one durable store.
type MapMirror struct {
	mu sync.Mutex
	m  map[string][]byte
}

// NewMapMirror returns an empty in-memory mirror.
func NewMapMirror() *MapMirror {
	return &MapMirror{m: make(map[string][]byte)}
}

func (mm *MapMirror) Get(key string) ([]byte, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	v, ok := mm.m[key]
	return v, ok
}

func (mm *MapMirror) Set(key string, value []byte) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.m[key] = append([]byte(nil), value...)
	return nil
}

func (mm *MapMirror) Delete(key string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	delete(mm.m, key)
}

func (mm *MapMirror) Clear() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.m = make(map[string][]byte)
	return nil
}
