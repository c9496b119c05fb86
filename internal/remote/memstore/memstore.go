// Package memstore is the in-memory remote.Store used by tests and the
// single-process dev mode. It reproduces the subscription contract of the
// hosted realtime store: initial snapshot on subscribe, one snapshot per
// mutation, coalescing when a subscriber lags.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/openchapel/events/internal/errs"
	"github.com/openchapel/events/internal/remote"
)

// Store keeps all records in a flat path-keyed map.
type Store struct {
	mu      sync.Mutex
	records map[string]json.RawMessage
	nextSub int64
	subs    map[int64]*subscriber
}

type subscriber struct {
	prefix string
	ch     chan remote.Snapshot
	stop   chan struct{}
	done   chan struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]json.RawMessage),
		subs:    make(map[int64]*subscriber),
	}
}

var _ remote.Store = (*Store)(nil)

func (s *Store) Get(_ context.Context, path string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, errs.ErrNotFound)
	}
	return v, nil
}

func (s *Store) GetAll(_ context.Context, prefix string) (remote.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(prefix), nil
}

func (s *Store) Set(_ context.Context, path string, value any) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[path] = buf
	s.notifyLocked()
	return nil
}

func (s *Store) SetMulti(_ context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	encoded := make(map[string]json.RawMessage, len(updates))
	for path, value := range updates {
		if value == nil {
			encoded[path] = nil
			continue
		}
		buf, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("set multi %s: %w", path, err)
		}
		encoded[path] = buf
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for path, buf := range encoded {
		if buf == nil {
			delete(s.records, path)
			continue
		}
		s.records[path] = buf
	}
	s.notifyLocked()
	return nil
}

func (s *Store) Push(_ context.Context, prefix string, value any) (string, error) {
	key, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("push %s: %w", prefix, err)
	}
	if value == nil {
		// Key reservation only; the caller writes the record itself.
		return key.String(), nil
	}
	buf, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("push %s: %w", prefix, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[prefix+"/"+key.String()] = buf
	s.notifyLocked()
	return key.String(), nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[path]; !ok {
		return nil
	}
	delete(s.records, path)
	s.notifyLocked()
	return nil
}

// Subscribe starts a dispatcher goroutine per subscriber. Snapshots are
// delivered off the store lock; a slow subscriber only ever sees the
// latest snapshot, intermediate ones coalesce away.
func (s *Store) Subscribe(prefix string, onSnapshot func(remote.Snapshot), _ func(error)) remote.CancelFunc {
	sub := &subscriber{
		prefix: prefix,
		ch:     make(chan remote.Snapshot, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = sub
	sub.offer(s.snapshotLocked(prefix))
	s.mu.Unlock()

	go func() {
		defer close(sub.done)
		for {
			select {
			case snap := <-sub.ch:
				onSnapshot(snap)
			case <-sub.stop:
				return
			}
		}
	}()

	return func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.stop)
		}
		s.mu.Unlock()
		<-sub.done
	}
}

func (s *Store) snapshotLocked(prefix string) remote.Snapshot {
	snap := make(remote.Snapshot)
	for path, v := range s.records {
		rest, ok := strings.CutPrefix(path, prefix+"/")
		if !ok || rest == "" {
			continue
		}
		snap[rest] = append(json.RawMessage(nil), v...)
	}
	return snap
}

func (s *Store) notifyLocked() {
	for _, sub := range s.subs {
		sub.offer(s.snapshotLocked(sub.prefix))
	}
}

// offer replaces any queued snapshot with the newest one.
func (sub *subscriber) offer(snap remote.Snapshot) {
	for {
		select {
		case sub.ch <- snap:
			return
		default:
			select {
			case <-sub.ch:
			default:
			}
		}
	}
}
