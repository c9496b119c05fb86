package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/openchapel/events/internal/errs"
	"github.com/openchapel/events/internal/model"
	"github.com/openchapel/events/internal/remote"
)

// Subtrees owned by the user repository.
const (
	UsersPath             = "users"
	VerificationCodesPath = "verificationCodes"
	UserEventsPath        = "userEvents"
)

// UserRepo stores accounts, signup verification codes, and per-user saved
// event id lists.
type UserRepo struct {
	store remote.Store
}

// NewUserRepo constructs a user repository over the given store.
func NewUserRepo(store remote.Store) *UserRepo {
	return &UserRepo{store: store}
}

// Get returns the account stored under users/<uid>.
func (r *UserRepo) Get(ctx context.Context, uid string) (model.User, error) {
	raw, err := r.store.Get(ctx, UsersPath+"/"+uid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.User{}, errs.ErrNotFound
		}
		return model.User{}, fmt.Errorf("get user %s: %w: %w", uid, errs.ErrRemote, err)
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return model.User{}, fmt.Errorf("get user %s: %w", uid, err)
	}
	u.UID = uid
	if u.Role != model.RoleAdmin {
		u.Role = model.RoleUser
	}
	return u, nil
}

// FindByEmail scans accounts for a matching email. The user collection on
// this site is small; a scan matches how the original looked records up.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (model.User, error) {
	snap, err := r.store.GetAll(ctx, UsersPath)
	if err != nil {
		return model.User{}, fmt.Errorf("find user: %w: %w", errs.ErrRemote, err)
	}
	for uid, raw := range snap {
		var u model.User
		if err := json.Unmarshal(raw, &u); err != nil {
			continue
		}
		if u.Email == email {
			u.UID = uid
			if u.Role != model.RoleAdmin {
				u.Role = model.RoleUser
			}
			return u, nil
		}
	}
	return model.User{}, errs.ErrNotFound
}

// Create stores a new account under users/<uid>.
func (r *UserRepo) Create(ctx context.Context, u model.User) error {
	if _, err := r.FindByEmail(ctx, u.Email); err == nil {
		return errs.ErrAlreadyExists
	} else if !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if err := r.store.Set(ctx, UsersPath+"/"+u.UID, u); err != nil {
		return fmt.Errorf("create user %s: %w: %w", u.UID, errs.ErrRemote, err)
	}
	return nil
}

// Role returns the stored role for uid, defaulting to "user" for unknown
// accounts the way the original site did.
func (r *UserRepo) Role(ctx context.Context, uid string) (model.Role, error) {
	u, err := r.Get(ctx, uid)
	if errors.Is(err, errs.ErrNotFound) {
		return model.RoleUser, nil
	}
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// SetVerification stores or updates the signup verification record.
func (r *UserRepo) SetVerification(ctx context.Context, uid string, vc model.VerificationCode) error {
	if err := r.store.Set(ctx, VerificationCodesPath+"/"+uid, vc); err != nil {
		return fmt.Errorf("set verification %s: %w: %w", uid, errs.ErrRemote, err)
	}
	return nil
}

// Verification returns the signup verification record for uid.
func (r *UserRepo) Verification(ctx context.Context, uid string) (model.VerificationCode, error) {
	raw, err := r.store.Get(ctx, VerificationCodesPath+"/"+uid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.VerificationCode{}, errs.ErrNotFound
		}
		return model.VerificationCode{}, fmt.Errorf("get verification %s: %w: %w", uid, errs.ErrRemote, err)
	}
	var vc model.VerificationCode
	if err := json.Unmarshal(raw, &vc); err != nil {
		return model.VerificationCode{}, fmt.Errorf("get verification %s: %w", uid, err)
	}
	return vc, nil
}

// SavedEventIDs returns the ids of events the user has saved, in stable order.
func (r *UserRepo) SavedEventIDs(ctx context.Context, uid string) ([]string, error) {
	snap, err := r.store.GetAll(ctx, UserEventsPath+"/"+uid)
	if err != nil {
		return nil, fmt.Errorf("get saved events %s: %w: %w", uid, errs.ErrRemote, err)
	}
	ids := make([]string, 0, len(snap))
	for _, raw := range snap {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveEvent records an event id in the user's saved list.
func (r *UserRepo) SaveEvent(ctx context.Context, uid, eventID string) error {
	if err := r.store.Set(ctx, UserEventsPath+"/"+uid+"/"+eventID, eventID); err != nil {
		return fmt.Errorf("save event %s for %s: %w: %w", eventID, uid, errs.ErrRemote, err)
	}
	return nil
}

// UnsaveEvent removes an event id from the user's saved list. Unknown ids
// are a no-op.
func (r *UserRepo) UnsaveEvent(ctx context.Context, uid, eventID string) error {
	if err := r.store.Delete(ctx, UserEventsPath+"/"+uid+"/"+eventID); err != nil {
		return fmt.Errorf("unsave event %s for %s: %w: %w", eventID, uid, errs.ErrRemote, err)
	}
	return nil
}
