// Package repository produces normalized domain records from the remote
// store and owns the paths under which they live.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/openchapel/events/internal/errs"
	"github.com/openchapel/events/internal/model"
	"github.com/openchapel/events/internal/remote"
)

// EventsPath is the subtree holding all event records.
const EventsPath = "events"

// EventRepo reads and writes model.Event records against the remote store.
// It owns the authoritative copy; callers never mutate the store directly.
type EventRepo struct {
	store remote.Store
	log   *zap.Logger
}

// NewEventRepo constructs an event repository over the given store.
func NewEventRepo(store remote.Store, log *zap.Logger) *EventRepo {
	return &EventRepo{store: store, log: log}
}

// decodeEvent turns one raw record into an Event. The id always comes from
// the store key, never from the record body. Missing fields are defaulted
// rather than rejected; a malformed recurrence is dropped so the record is
// treated as non-permanent.
func decodeEvent(id string, raw json.RawMessage) (model.Event, bool) {
	var ev model.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.Event{}, false
	}
	ev.ID = id
	if ev.Type != model.EventRegular && ev.Type != model.EventSpecial {
		ev.Type = model.EventRegular
	}
	if ev.Recurrence != nil {
		r := ev.Recurrence
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 || r.Frequency != model.FrequencyWeekly {
			ev.Recurrence = nil
		}
	}
	return ev, true
}

// decodeSnapshot converts a raw snapshot into events in stable key order,
// so repeated decodes of the same snapshot agree on relative positions.
func (r *EventRepo) decodeSnapshot(snap remote.Snapshot) []model.Event {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	events := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		ev, ok := decodeEvent(id, snap[id])
		if !ok {
			r.log.Warn("event repo: dropping undecodable record", zap.String("id", id))
			continue
		}
		events = append(events, ev)
	}
	return events
}

// GetAll fetches the full event collection once. Used by reconciliation
// checks that must complete before acting.
func (r *EventRepo) GetAll(ctx context.Context) ([]model.Event, error) {
	snap, err := r.store.GetAll(ctx, EventsPath)
	if err != nil {
		return nil, fmt.Errorf("get events: %w: %w", errs.ErrRemote, err)
	}
	return r.decodeSnapshot(snap), nil
}

// AllocateID reserves a fresh store key under the events subtree without
// writing a record. The reconciler uses this to include newly backfilled
// events in one batched write.
func (r *EventRepo) AllocateID(ctx context.Context) (string, error) {
	id, err := r.store.Push(ctx, EventsPath, nil)
	if err != nil {
		return "", fmt.Errorf("allocate event id: %w: %w", errs.ErrRemote, err)
	}
	return id, nil
}

// Upsert writes the event in place when it has an id, or allocates a new
// store key and inserts otherwise. Returns the id used.
func (r *EventRepo) Upsert(ctx context.Context, ev model.Event) (string, error) {
	if ev.ID == "" {
		id, err := r.store.Push(ctx, EventsPath, nil)
		if err != nil {
			return "", fmt.Errorf("allocate event id: %w: %w", errs.ErrRemote, err)
		}
		ev.ID = id
	}
	if err := r.store.Set(ctx, EventsPath+"/"+ev.ID, ev); err != nil {
		return "", fmt.Errorf("upsert event %s: %w: %w", ev.ID, errs.ErrRemote, err)
	}
	return ev.ID, nil
}

// SetMulti pushes a batch of corrections in one round-trip.
func (r *EventRepo) SetMulti(ctx context.Context, events map[string]model.Event) error {
	if len(events) == 0 {
		return nil
	}
	updates := make(map[string]any, len(events))
	for id, ev := range events {
		ev.ID = id
		updates[EventsPath+"/"+id] = ev
	}
	if err := r.store.SetMulti(ctx, updates); err != nil {
		return fmt.Errorf("write %d event corrections: %w: %w", len(events), errs.ErrRemote, err)
	}
	return nil
}

// Delete removes the event. Deleting an unknown id is a no-op.
func (r *EventRepo) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, EventsPath+"/"+id); err != nil {
		return fmt.Errorf("delete event %s: %w: %w", id, errs.ErrRemote, err)
	}
	return nil
}

// Subscribe registers for live updates of the full collection. onEvents
// receives the decoded current set on registration and after every remote
// mutation; subscription errors go to onError.
func (r *EventRepo) Subscribe(onEvents func([]model.Event), onError func(error)) remote.CancelFunc {
	return r.store.Subscribe(EventsPath, func(snap remote.Snapshot) {
		onEvents(r.decodeSnapshot(snap))
	}, onError)
}
