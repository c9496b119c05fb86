package cache

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type failingMirror struct {
	*MapMirror
	setErr error
}

func (f *failingMirror) Set(key string, value []byte) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.MapMirror.Set(key, value)
}

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	t.Parallel()

	c := New(NewMapMirror(), zap.NewNop())
	c.Set("events", []string{"a", "b"})

	var got []string
	if !c.Get("events", &got) {
		t.Fatal("freshly set key reported absent")
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("round trip mismatch: %v", got)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	c := New(NewMapMirror(), zap.NewNop())
	now, advance := testClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	c.SetClock(now)

	c.Set("k", "v")

	var got string
	advance(29 * time.Minute)
	if !c.Get("k", &got) {
		t.Fatal("entry expired before the 30 minute TTL")
	}

	advance(2 * time.Minute)
	if c.Get("k", &got) {
		t.Fatal("entry survived past the TTL")
	}
	// Eviction removes the mirror copy too: a second read stays absent.
	if c.Get("k", &got) {
		t.Fatal("evicted entry came back")
	}
}

func TestCache_HydratesFromMirror(t *testing.T) {
	t.Parallel()

	mirror := NewMapMirror()
	writer := New(mirror, zap.NewNop())
	writer.Set("events", 42)

	// A fresh cache over the same mirror starts with empty memory.
	reader := New(mirror, zap.NewNop())
	var got int
	if !reader.Get("events", &got) || got != 42 {
		t.Fatalf("mirror hydration failed: got %d", got)
	}
}

func TestCache_UndecodableMirrorEntryEvicted(t *testing.T) {
	t.Parallel()

	mirror := NewMapMirror()
	if err := mirror.Set("bad", []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	c := New(mirror, zap.NewNop())
	var got string
	if c.Get("bad", &got) {
		t.Fatal("undecodable entry reported present")
	}
	if _, ok := mirror.Get("bad"); ok {
		t.Fatal("undecodable entry not evicted from mirror")
	}
}

func TestCache_MirrorFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	c := New(&failingMirror{MapMirror: NewMapMirror(), setErr: errors.New("quota")}, zap.NewNop())
	c.Set("k", "v")

	var got string
	if !c.Get("k", &got) || got != "v" {
		t.Fatal("cache must keep serving from memory when the mirror fails")
	}
}

func TestCache_ClearSignalReachesSibling(t *testing.T) {
	t.Parallel()

	mirror := NewMapMirror()
	a := New(mirror, zap.NewNop())
	b := New(mirror, zap.NewNop())

	a.Set("events", "cached")

	// Sibling has its own memory copy of the key.
	var got string
	if !b.Get("events", &got) {
		t.Fatal("sibling could not hydrate before clear")
	}

	a.Clear()

	if b.Get("events", &got) {
		t.Fatal("sibling still served a cleared key")
	}
	if a.Get("events", &got) {
		t.Fatal("clearing cache still served the key")
	}
}

func TestCache_ClearIsLastWriteWins(t *testing.T) {
	t.Parallel()

	mirror := NewMapMirror()
	a := New(mirror, zap.NewNop())
	b := New(mirror, zap.NewNop())

	a.Clear()
	b.Clear()
	a.Set("k", 1)

	// A's write after the last clear must survive on both sides.
	var got int
	if !a.Get("k", &got) || got != 1 {
		t.Fatal("write after clear was lost")
	}
	if !b.Get("k", &got) || got != 1 {
		t.Fatal("sibling dropped a write made after the last clear")
	}
}

func TestFileMirror_RoundTripAndClear(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fm, err := NewFileMirror(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := fm.Set("events/list", []byte(`{"data":1,"timestamp":2}`)); err != nil {
		t.Fatal(err)
	}
	got, ok := fm.Get("events/list")
	if !ok || string(got) != `{"data":1,"timestamp":2}` {
		t.Fatalf("file mirror round trip: %q %v", got, ok)
	}

	// A second mirror over the same directory sees the entry.
	fm2, err := NewFileMirror(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fm2.Get("events/list"); !ok {
		t.Fatal("sibling file mirror missed the entry")
	}

	if err := fm.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, ok := fm2.Get("events/list"); ok {
		t.Fatal("entry survived clear")
	}
}

func TestFileMirror_CacheClearPropagatesAcrossMirrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fmA, err := NewFileMirror(dir)
	if err != nil {
		t.Fatal(err)
	}
	fmB, err := NewFileMirror(dir)
	if err != nil {
		t.Fatal(err)
	}

	a := New(fmA, zap.NewNop())
	b := New(fmB, zap.NewNop())

	a.Set("events", "x")
	var got string
	if !b.Get("events", &got) {
		t.Fatal("cross-process hydration failed")
	}

	a.Clear()
	if b.Get("events", &got) {
		t.Fatal("clear signal did not reach the sibling process")
	}
}
