package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/openchapel/events/internal/errs"
	"github.com/openchapel/events/internal/remote"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitSnapshot(t *testing.T, ch <-chan remote.Snapshot) remote.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestStore_PointOps(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Get(ctx, "events/missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("missing path: got %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "events/a", map[string]string{"title": "Picnic"}); err != nil {
		t.Fatal(err)
	}
	raw, err := s.Get(ctx, "events/a")
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(raw, &got); err != nil || got["title"] != "Picnic" {
		t.Fatalf("round trip: %v %v", got, err)
	}

	// Deleting a missing path is a no-op, not an error.
	if err := s.Delete(ctx, "events/nope"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "events/a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "events/a"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatal("delete did not remove the record")
	}
}

func TestStore_PushGeneratesDistinctKeys(t *testing.T) {
	ctx := context.Background()
	s := New()

	k1, err := s.Push(ctx, "events", map[string]string{"title": "a"})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := s.Push(ctx, "events", map[string]string{"title": "b"})
	if err != nil {
		t.Fatal(err)
	}
	if k1 == "" || k1 == k2 {
		t.Fatalf("push keys must be distinct and non-empty: %q %q", k1, k2)
	}

	snap, err := s.GetAll(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 {
		t.Fatalf("GetAll: got %d records, want 2", len(snap))
	}
}

func TestStore_GetAllAbsentSubtree(t *testing.T) {
	snap, err := New().GetAll(context.Background(), "events")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 0 {
		t.Fatalf("absent subtree: got %v, want empty", snap)
	}
}

func TestStore_SubscribeInitialAndUpdates(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Set(ctx, "events/a", map[string]string{"title": "a"}); err != nil {
		t.Fatal(err)
	}

	snaps := make(chan remote.Snapshot, 8)
	cancel := s.Subscribe("events", func(snap remote.Snapshot) { snaps <- snap }, nil)
	defer cancel()

	initial := waitSnapshot(t, snaps)
	if len(initial) != 1 {
		t.Fatalf("initial snapshot: got %d records, want 1", len(initial))
	}

	if err := s.Set(ctx, "events/b", map[string]string{"title": "b"}); err != nil {
		t.Fatal(err)
	}
	next := waitSnapshot(t, snaps)
	if len(next) != 2 {
		t.Fatalf("post-write snapshot: got %d records, want 2", len(next))
	}

	// Writes outside the prefix do not produce records in the snapshot.
	if err := s.Set(ctx, "users/u1", map[string]string{"role": "user"}); err != nil {
		t.Fatal(err)
	}
	next = waitSnapshot(t, snaps)
	if _, ok := next["u1"]; ok {
		t.Fatal("snapshot leaked a record from another subtree")
	}
}

func TestStore_SetMultiDeleteViaNil(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Set(ctx, "events/a", map[string]string{"title": "a"}); err != nil {
		t.Fatal(err)
	}

	err := s.SetMulti(ctx, map[string]any{
		"events/a": nil,
		"events/b": map[string]string{"title": "b"},
	})
	if err != nil {
		t.Fatal(err)
	}

	snap, err := s.GetAll(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snap["a"]; ok {
		t.Fatal("nil write did not delete the path")
	}
	if _, ok := snap["b"]; !ok {
		t.Fatal("bulk write did not land")
	}
}

func TestStore_CancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := New()

	var delivered int
	done := make(chan struct{}, 16)
	cancel := s.Subscribe("events", func(remote.Snapshot) {
		delivered++
		done <- struct{}{}
	}, nil)

	<-done // initial snapshot
	cancel()
	cancel() // idempotent

	if err := s.Set(ctx, "events/a", map[string]string{"title": "a"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
		t.Fatal("snapshot delivered after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}
