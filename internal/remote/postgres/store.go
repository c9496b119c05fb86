package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/openchapel/events/internal/errs"
	"github.com/openchapel/events/internal/remote"
)

// notifyChannel carries the top-level segment of every mutated path, so
// sibling processes can re-read just the affected subtree.
const notifyChannel = "kv_changed"

// Store is the Postgres-backed remote store. Records live in the kv table
// as (path, jsonb value) rows. Mutations notify local subscribers
// directly and other instances through pg_notify.
type Store struct {
	db  *DB
	log *zap.Logger

	mu       sync.Mutex
	subs     map[int]*subscriber
	nextSub  int
	listenOn bool

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriber struct {
	prefix  string
	ch      chan remote.Snapshot
	stop    chan struct{}
	done    chan struct{}
	onError func(error)
}

var _ remote.Store = (*Store)(nil)

// NewStore constructs a store over db.
func NewStore(db *DB, log *zap.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		db:     db,
		log:    log,
		subs:   make(map[int]*subscriber),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close detaches the listener connection. Active subscriptions stop
// receiving remote change notifications; cancel them separately.
func (s *Store) Close() { s.cancel() }

// Get reads the record at path.
func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	const q = `SELECT value FROM kv WHERE path=$1`
	var raw json.RawMessage
	if err := s.db.Pool.QueryRow(ctx, q, path).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return raw, nil
}

// GetAll returns every record under prefix, keyed by the remainder of the
// path. An absent subtree yields an empty snapshot.
func (s *Store) GetAll(ctx context.Context, prefix string) (remote.Snapshot, error) {
	const q = `SELECT path, value FROM kv WHERE path LIKE $1`
	rows, err := s.db.Pool.Query(ctx, q, prefix+"/%")
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", prefix, err)
	}
	defer rows.Close()

	snap := make(remote.Snapshot)
	for rows.Next() {
		var path string
		var raw json.RawMessage
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("get all %s: %w", prefix, err)
		}
		rest, ok := strings.CutPrefix(path, prefix+"/")
		if !ok || rest == "" {
			continue
		}
		snap[rest] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get all %s: %w", prefix, err)
	}
	return snap, nil
}

const upsertSQL = `
INSERT INTO kv (path, value, updated_at) VALUES ($1,$2,now())
ON CONFLICT (path) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`

// Set writes value at path, overwriting any previous record.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if _, err := s.db.Pool.Exec(ctx, upsertSQL, path, buf); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	s.broadcast(ctx, topSegment(path))
	return nil
}

// SetMulti applies all writes in one transaction. A nil value deletes the
// path.
func (s *Store) SetMulti(ctx context.Context, updates map[string]any) (err error) {
	if len(updates) == 0 {
		return nil
	}
	encoded := make(map[string]json.RawMessage, len(updates))
	for path, value := range updates {
		if value == nil {
			encoded[path] = nil
			continue
		}
		buf, mErr := json.Marshal(value)
		if mErr != nil {
			return fmt.Errorf("set multi %s: %w", path, mErr)
		}
		encoded[path] = buf
	}

	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("set multi: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	const del = `DELETE FROM kv WHERE path=$1`
	segments := make(map[string]struct{})
	for path, buf := range encoded {
		if buf == nil {
			if _, err = tx.Exec(ctx, del, path); err != nil {
				return fmt.Errorf("set multi %s: %w", path, err)
			}
		} else {
			if _, err = tx.Exec(ctx, upsertSQL, path, buf); err != nil {
				return fmt.Errorf("set multi %s: %w", path, err)
			}
		}
		segments[topSegment(path)] = struct{}{}
	}
	for seg := range segments {
		s.broadcast(ctx, seg)
	}
	return nil
}

// Push returns a fresh child key under prefix. With a non-nil value the
// record is written as well; nil reserves the key only.
func (s *Store) Push(ctx context.Context, prefix string, value any) (string, error) {
	key, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("push %s: %w", prefix, err)
	}
	if value == nil {
		return key.String(), nil
	}
	if err := s.Set(ctx, prefix+"/"+key.String(), value); err != nil {
		return "", err
	}
	return key.String(), nil
}

// Delete removes the record at path. Missing paths are a no-op.
func (s *Store) Delete(ctx context.Context, path string) error {
	const q = `DELETE FROM kv WHERE path=$1`
	if _, err := s.db.Pool.Exec(ctx, q, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	s.broadcast(ctx, topSegment(path))
	return nil
}

// Subscribe delivers an initial snapshot, then one per subtree mutation.
// Remote-instance changes arrive via LISTEN when the store was built over
// a real pool; local writes always fan out.
func (s *Store) Subscribe(prefix string, onSnapshot func(remote.Snapshot), onError func(error)) remote.CancelFunc {
	sub := &subscriber{
		prefix:  prefix,
		ch:      make(chan remote.Snapshot, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onError: onError,
	}

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = sub
	if s.db.raw != nil && !s.listenOn {
		s.listenOn = true
		go s.listen()
	}
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

	s.refresh(s.ctx, sub)

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

// refresh re-reads the subscriber's subtree and offers the snapshot.
func (s *Store) refresh(ctx context.Context, sub *subscriber) {
	snap, err := s.GetAll(ctx, sub.prefix)
	if err != nil {
		if sub.onError != nil {
			sub.onError(err)
		}
		return
	}
	sub.offer(snap)
}

// broadcast re-reads affected subscribers and tells sibling instances.
// Notification failures are logged, not raised: the write itself landed.
func (s *Store) broadcast(ctx context.Context, segment string) {
	if _, err := s.db.Pool.Exec(ctx, `SELECT pg_notify($1,$2)`, notifyChannel, segment); err != nil {
		s.log.Warn("pg_notify failed", zap.String("segment", segment), zap.Error(err))
	}
	s.dispatch(ctx, segment)
}

func (s *Store) dispatch(ctx context.Context, segment string) {
	s.mu.Lock()
	var affected []*subscriber
	for _, sub := range s.subs {
		if topSegment(sub.prefix) == segment {
			affected = append(affected, sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range affected {
		s.refresh(ctx, sub)
	}
}

// listen holds a dedicated connection on LISTEN and re-reads affected
// subtrees as notifications arrive. Reconnects on error.
func (s *Store) listen() {
	for s.ctx.Err() == nil {
		if err := s.listenOnce(); err != nil && s.ctx.Err() == nil {
			s.log.Warn("listener disconnected", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-s.ctx.Done():
			}
		}
	}
}

func (s *Store) listenOnce() error {
	conn, err := s.db.raw.Acquire(s.ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(s.ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(s.ctx)
		if err != nil {
			return err
		}
		s.dispatch(s.ctx, n.Payload)
	}
}

// offer replaces any queued snapshot with the newest one.
func (sub *subscriber) offer(snap remote.Snapshot) {
	for {
		select {
		case sub.ch <- snap:
			return
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}

func topSegment(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
