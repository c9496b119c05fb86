package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/openchapel/events/internal/errs"
	"github.com/openchapel/events/internal/model"
	"github.com/openchapel/events/internal/remote/memstore"
)

func TestUserRepo_RoleDefaultsToUser(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo := NewUserRepo(store)

	if err := store.Set(ctx, UsersPath+"/u1", map[string]any{"email": "a@b.c", "role": "superuser"}); err != nil {
		t.Fatal(err)
	}
	u, err := repo.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != model.RoleUser {
		t.Fatalf("unknown role not defaulted: %q", u.Role)
	}

	// Unknown accounts read as plain users too.
	role, err := repo.Role(ctx, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if role != model.RoleUser {
		t.Fatalf("missing account role: %q", role)
	}
}

func TestUserRepo_CreateAndFindByEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(memstore.New())

	u := model.User{UID: "u1", Email: "a@b.c", Role: model.RoleUser}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatal(err)
	}

	got, err := repo.FindByEmail(ctx, "a@b.c")
	if err != nil {
		t.Fatal(err)
	}
	if got.UID != "u1" {
		t.Fatalf("unexpected user: %+v", got)
	}

	if _, err := repo.FindByEmail(ctx, "other@b.c"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	err = repo.Create(ctx, model.User{UID: "u2", Email: "a@b.c"})
	if !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestUserRepo_SavedEventIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(memstore.New())

	for _, id := range []string{"c", "a", "b"} {
		if err := repo.SaveEvent(ctx, "u1", id); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := repo.SavedEventIDs(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	if err := repo.UnsaveEvent(ctx, "u1", "b"); err != nil {
		t.Fatal(err)
	}
	ids, err = repo.SavedEventIDs(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("unsave did not remove: %v", ids)
	}

	// A user with no saved events gets an empty list, not an error.
	ids, err = repo.SavedEventIDs(ctx, "nobody")
	if err != nil || len(ids) != 0 {
		t.Fatalf("ids=%v err=%v", ids, err)
	}
}
