package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter with a sliding window and lockout,
// used when the service runs against the in-memory store.
type Memory struct {
	mu       sync.Mutex
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
	state    map[string]*memEntry
}

type memEntry struct {
	fails        int
	lastFail     time.Time
	blockedUntil time.Time
}

// NewMemory constructs an in-process limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
		state:    make(map[string]*memEntry),
	}
}

// SetClock overrides the limiter's time source. Tests only.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func key(email string, ipHash []byte) string { return email + "\x00" + string(ipHash) }

func (m *Memory) Allow(_ context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state[key(email, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, email string, ipHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key(email, ipHash))
	return nil
}

func (m *Memory) Failure(_ context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(email, ipHash)
	now := m.now()
	e, ok := m.state[k]
	if !ok || now.Sub(e.lastFail) > m.window {
		e = &memEntry{}
		m.state[k] = e
	}
	e.fails++
	e.lastFail = now

	if e.fails >= m.maxFails {
		e.blockedUntil = now.Add(m.blockFor)
		return true, m.blockFor, nil
	}
	return false, 0, nil
}
