package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/openchapel/events/internal/cache"
	"github.com/openchapel/events/internal/metrics"
	"github.com/openchapel/events/internal/model"
	"github.com/openchapel/events/internal/remote"
	"github.com/openchapel/events/internal/repository"
)

// EventsCacheKey is the cache key the published list lives under.
const EventsCacheKey = "events"

// Feed is the live event list consumers observe. It glues the repository
// subscription to the reconciler: every snapshot is reconciled, sorted,
// cached, and republished to feed subscribers in registration order.
type Feed struct {
	repo  *repository.EventRepo
	rec   *Reconciler
	cache *cache.Cache
	log   *zap.Logger

	// passMu serializes reconciliation passes so overlapping snapshots
	// coalesce instead of racing each other's writes.
	passMu sync.Mutex

	mu        sync.Mutex
	listeners []listener
	nextID    int64
	current   []model.Event
	cancel    remote.CancelFunc
	onError   func(error)
}

type listener struct {
	id int64
	fn func([]model.Event)
}

// NewFeed constructs a feed. onError, when non-nil, receives one call per
// failed remote operation; pass nil to only log.
func NewFeed(repo *repository.EventRepo, rec *Reconciler, c *cache.Cache, log *zap.Logger, onError func(error)) *Feed {
	return &Feed{repo: repo, rec: rec, cache: c, log: log, onError: onError}
}

// Start registers the remote subscription. The store delivers an initial
// snapshot immediately, which doubles as the eager startup pass.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return
	}
	f.cancel = f.repo.Subscribe(func(events []model.Event) {
		f.handleSnapshot(ctx, events)
	}, func(err error) {
		f.log.Error("feed: subscription error", zap.Error(err))
		f.notifyError(err)
	})
}

// Stop detaches from the remote store. In-flight correction writes are not
// cancelled; they complete against the store on their own.
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Subscribe registers fn for every published snapshot, starting with the
// current one if the feed has published before. Listeners are invoked in
// registration order; the returned cancel removes the listener.
func (f *Feed) Subscribe(fn func([]model.Event)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, listener{id: id, fn: fn})
	current := f.current
	f.mu.Unlock()

	if current != nil {
		fn(copyEvents(current))
	}

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, l := range f.listeners {
			if l.id == id {
				f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
				return
			}
		}
	}
}

// Events returns the most recently published list.
func (f *Feed) Events() []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyEvents(f.current)
}

// Refresh runs one full pass outside the subscription: fetch, reconcile,
// publish. Wired to a cron schedule so lapsed permanent events roll
// forward even when the remote store is quiet.
func (f *Feed) Refresh(ctx context.Context) error {
	events, err := f.repo.GetAll(ctx)
	if err != nil {
		f.notifyError(err)
		return err
	}
	f.handleSnapshot(ctx, events)
	return nil
}

// handleSnapshot is the single path every snapshot goes through.
func (f *Feed) handleSnapshot(ctx context.Context, events []model.Event) {
	f.passMu.Lock()
	defer f.passMu.Unlock()

	corrected, _ := f.rec.Pass(ctx, events)
	sorted := sortByDate(corrected)

	f.cache.Set(EventsCacheKey, sorted)

	f.mu.Lock()
	f.current = sorted
	subs := make([]listener, len(f.listeners))
	copy(subs, f.listeners)
	f.mu.Unlock()

	for _, l := range subs {
		l.fn(copyEvents(sorted))
	}
	metrics.FeedPublish()
}

// Create inserts a new event and returns its id. The cache refreshes with
// the next authoritative snapshot.
func (f *Feed) Create(ctx context.Context, ev model.Event) (string, error) {
	ev.ID = ""
	if ev.Type != model.EventRegular && ev.Type != model.EventSpecial {
		ev.Type = model.EventRegular
	}
	id, err := f.repo.Upsert(ctx, ev)
	if err != nil {
		f.notifyError(err)
		return "", err
	}
	return id, nil
}

// Update overwrites an existing event in place.
func (f *Feed) Update(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		return errors.New("update event: missing id")
	}
	if _, err := f.repo.Upsert(ctx, ev); err != nil {
		f.notifyError(err)
		return err
	}
	return nil
}

// Delete removes an event and optimistically drops it from the cached
// list; the next snapshot overwrites the cache authoritatively.
func (f *Feed) Delete(ctx context.Context, id string) error {
	if err := f.repo.Delete(ctx, id); err != nil {
		f.notifyError(err)
		return err
	}

	var cached []model.Event
	if f.cache.Get(EventsCacheKey, &cached) {
		kept := cached[:0]
		for _, ev := range cached {
			if ev.ID != id {
				kept = append(kept, ev)
			}
		}
		f.cache.Set(EventsCacheKey, kept)
	}
	return nil
}

// notifyError surfaces one notification per failed operation. Transient
// remote failures never tear the feed down; the subscription stays
// registered and the next snapshot self-heals.
func (f *Feed) notifyError(err error) {
	if f.onError != nil {
		f.onError(err)
	}
}

// sortByDate orders events ascending by date. Events without a date are
// unorderable: they keep their input order and go after the dated ones.
func sortByDate(events []model.Event) []model.Event {
	dated := make([]model.Event, 0, len(events))
	undated := make([]model.Event, 0)
	for _, ev := range events {
		if ev.Date == "" {
			undated = append(undated, ev)
			continue
		}
		dated = append(dated, ev)
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].Date < dated[j].Date
	})
	return append(dated, undated...)
}

func copyEvents(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	copy(out, events)
	return out
}
