package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/openchapel/events/internal/cache"
	"github.com/openchapel/events/internal/model"
	"github.com/openchapel/events/internal/repository"
)

// userEventsCacheKey is the per-user cache key prefix.
const userEventsCacheKey = "user-events-"

// UserEvents serves the events a signed-in member has saved, joined
// against the main collection and cached per user.
type UserEvents struct {
	users  *repository.UserRepo
	events *repository.EventRepo
	cache  *cache.Cache
	log    *zap.Logger
}

// NewUserEvents constructs the saved-events service.
func NewUserEvents(users *repository.UserRepo, events *repository.EventRepo, c *cache.Cache, log *zap.Logger) *UserEvents {
	return &UserEvents{users: users, events: events, cache: c, log: log}
}

// List returns the user's saved events. Ids pointing at deleted events are
// skipped. Results are cached under a user-specific key.
func (s *UserEvents) List(ctx context.Context, uid string) ([]model.Event, error) {
	key := userEventsCacheKey + uid

	var cached []model.Event
	if s.cache.Get(key, &cached) {
		return cached, nil
	}

	ids, err := s.users.SavedEventIDs(ctx, uid)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Event{}, nil
	}

	all, err := s.events.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Event, len(all))
	for _, ev := range all {
		byID[ev.ID] = ev
	}

	saved := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := byID[id]; ok {
			saved = append(saved, ev)
		}
	}

	s.cache.Set(key, saved)
	return saved, nil
}

// Save adds an event to the user's list and invalidates the cached join.
func (s *UserEvents) Save(ctx context.Context, uid, eventID string) error {
	if err := s.users.SaveEvent(ctx, uid, eventID); err != nil {
		return err
	}
	s.cache.Delete(userEventsCacheKey + uid)
	return nil
}

// Remove drops an event from the user's list and invalidates the cached join.
func (s *UserEvents) Remove(ctx context.Context, uid, eventID string) error {
	if err := s.users.UnsaveEvent(ctx, uid, eventID); err != nil {
		return err
	}
	s.cache.Delete(userEventsCacheKey + uid)
	return nil
}
