package statecache

import (
	"path/filepath"
	"testing"
	"time"

	"cccopy/internal/state"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestStateRoundTrip(t *testing.T) {
	c := newTestCache(t)

	if _, ok := c.GetState(1, "src/a.txt"); ok {
		t.Fatal("empty cache reported a hit")
	}

	c.PutState(1, "src/a.txt", state.Modified)
	got, ok := c.GetState(1, "src/a.txt")
	if !ok || got != state.Modified {
		t.Fatalf("got %q, %v", got, ok)
	}

	// Overwrite in place.
	c.PutState(1, "src/a.txt", state.Same)
	got, ok = c.GetState(1, "src/a.txt")
	if !ok || got != state.Same {
		t.Fatalf("after overwrite: %q, %v", got, ok)
	}

	// Other projects never see it.
	if _, ok := c.GetState(2, "src/a.txt"); ok {
		t.Fatal("cross-project hit")
	}
}

func TestStateTTLExpiry(t *testing.T) {
	c := newTestCache(t)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.PutState(7, "f.v", state.Updated)

	c.now = func() time.Time { return base.Add(StateTTL - time.Second) }
	if _, ok := c.GetState(7, "f.v"); !ok {
		t.Fatal("entry inside TTL missed")
	}

	c.now = func() time.Time { return base.Add(StateTTL + time.Second) }
	if _, ok := c.GetState(7, "f.v"); ok {
		t.Fatal("entry past TTL served")
	}
}

func TestInvalidateState(t *testing.T) {
	c := newTestCache(t)
	c.PutState(1, "a", state.Same)
	c.PutState(1, "b", state.Modified)
	c.PutState(2, "a", state.Same)

	c.InvalidateState(1, "a")
	if _, ok := c.GetState(1, "a"); ok {
		t.Fatal("invalidated path still cached")
	}
	if _, ok := c.GetState(1, "b"); !ok {
		t.Fatal("untouched path dropped")
	}

	c.InvalidateState(1)
	if _, ok := c.GetState(1, "b"); ok {
		t.Fatal("project-wide invalidation missed a path")
	}
	if _, ok := c.GetState(2, "a"); !ok {
		t.Fatal("other project affected by invalidation")
	}
}

func TestTrackedRoundTripAndTTL(t *testing.T) {
	c := newTestCache(t)

	set := map[string]string{"src/a.txt": "aaa", "src/b.txt": "bbb"}
	base := time.Now()
	c.now = func() time.Time { return base }
	c.PutTracked("/prod", "head1", set)

	got, ok := c.GetTracked("/prod", "head1")
	if !ok || len(got) != 2 || got["src/a.txt"] != "aaa" {
		t.Fatalf("tracked round trip: %v, %v", got, ok)
	}

	// A new HEAD supersedes the old snapshot entirely.
	c.PutTracked("/prod", "head2", map[string]string{"src/a.txt": "ccc"})
	if _, ok := c.GetTracked("/prod", "head1"); ok {
		t.Fatal("stale HEAD snapshot survived")
	}

	c.now = func() time.Time { return base.Add(TrackedTTL + time.Second) }
	if _, ok := c.GetTracked("/prod", "head2"); ok {
		t.Fatal("tracked snapshot served past TTL")
	}
}

func TestInvalidateTracked(t *testing.T) {
	c := newTestCache(t)
	c.PutTracked("/prod", "h", map[string]string{"x": "1"})
	c.InvalidateTracked("/prod")
	if _, ok := c.GetTracked("/prod", "h"); ok {
		t.Fatal("invalidated tracked set still cached")
	}
}
