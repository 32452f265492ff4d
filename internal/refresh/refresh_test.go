package refresh

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"

	"cccopy/internal/config"
	"cccopy/internal/events"
	"cccopy/internal/gitx"
	"cccopy/internal/state"
	"cccopy/internal/statecache"
)

func testProject(t *testing.T) *config.Project {
	t.Helper()
	base := t.TempDir()
	proj := &config.Project{
		ProjectID:     1,
		Name:          "test",
		ProductionDir: filepath.Join(base, "prod"),
		WorkingDir:    filepath.Join(base, "work"),
		Sources:       []string{"src/**", "*.txt"},
		Excludes:      []string{"**/*.log"},
	}
	for _, d := range []string{proj.ProductionDir, proj.WorkingDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return proj
}

func initRepo(t *testing.T, dir string) gitx.Repo {
	t.Helper()
	if _, err := exec.LookPath(gitx.BinPath()); err != nil {
		t.Skip("git binary not available")
	}
	r := gitx.Repo{Dir: dir}
	if err := r.Init(); err != nil {
		t.Fatal(err)
	}
	if err := r.SetUser("tester", "tester@cccopy.com"); err != nil {
		t.Fatal(err)
	}
	return r
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newCache(t *testing.T) *statecache.Cache {
	t.Helper()
	c, err := statecache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestForegroundScanPublishesPendingRows(t *testing.T) {
	proj := testProject(t)
	write(t, proj.WorkingDir, "src/a.v", "a")
	write(t, proj.ProductionDir, "src/b.v", "b")
	write(t, proj.WorkingDir, "src/noise.log", "x")
	write(t, proj.WorkingDir, "readme.txt", "r")

	s := New(proj, newCache(t), EventBus.New())
	// Workers deliberately not started: the scan must not depend on them.

	rows, gen := s.Refresh("src")
	if gen != 1 {
		t.Errorf("generation = %d, want 1", gen)
	}
	got := map[string]state.FileState{}
	for _, r := range rows {
		got[r.Path] = r.State
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %v, want the union src/a.v + src/b.v", rows)
	}
	if got["src/a.v"] != state.Pending || got["src/b.v"] != state.Pending {
		t.Errorf("uncached rows must be pending, got %v", got)
	}
	if _, ok := got["src/noise.log"]; ok {
		t.Error("excluded file surfaced in scan")
	}
}

func TestRefreshServesFreshCacheEntries(t *testing.T) {
	proj := testProject(t)
	write(t, proj.WorkingDir, "note.txt", "n")

	cache := newCache(t)
	cache.PutState(proj.ProjectID, "note.txt", state.Modified)

	s := New(proj, cache, EventBus.New())
	rows, _ := s.Refresh(".")
	if len(rows) != 1 || rows[0].State != state.Modified {
		t.Fatalf("rows = %v, want cached modified state", rows)
	}
}

func TestGenerationSupersedesOlderResults(t *testing.T) {
	proj := testProject(t)
	bus := EventBus.New()

	published := 0
	if err := bus.Subscribe(events.EventRefreshRow, func(r Result) {
		published++
	}); err != nil {
		t.Fatal(err)
	}

	s := New(proj, newCache(t), bus)
	write(t, proj.WorkingDir, "stale.txt", "s")

	s.Refresh(".") // generation 1
	s.Refresh(".") // generation 2 supersedes it

	// Replay a generation-1 task by hand: the result must be discarded
	// before any git work happens.
	s.classify(task{gen: 1, rel: "stale.txt"})
	if published != 0 {
		t.Fatalf("superseded generation published %d rows", published)
	}
}

func TestBackgroundClassificationEndToEnd(t *testing.T) {
	proj := testProject(t)
	work := initRepo(t, proj.WorkingDir)
	prod := initRepo(t, proj.ProductionDir)

	write(t, proj.ProductionDir, "src/a.v", "module a\n")
	if err := prod.AddAll(); err != nil {
		t.Fatal(err)
	}
	if err := prod.Commit("init"); err != nil {
		t.Fatal(err)
	}
	write(t, proj.WorkingDir, "src/a.v", "module a\n")
	if err := work.AddAll(); err != nil {
		t.Fatal(err)
	}
	if err := work.Commit("init"); err != nil {
		t.Fatal(err)
	}

	bus := EventBus.New()
	drained := make(chan uint64, 1)
	if err := bus.Subscribe(events.EventRefreshDrained, func(gen uint64) {
		select {
		case drained <- gen:
		default:
		}
	}); err != nil {
		t.Fatal(err)
	}

	results := make(chan Result, 16)
	if err := bus.Subscribe(events.EventRefreshRow, func(r Result) {
		results <- r
	}); err != nil {
		t.Fatal(err)
	}

	cache := newCache(t)
	s := New(proj, cache, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	rows, gen := s.Refresh("src")
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}

	select {
	case g := <-drained:
		if g != gen {
			t.Fatalf("drained generation %d, want %d", g, gen)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("classification never drained")
	}

	select {
	case r := <-results:
		if r.Path != "src/a.v" || r.State != state.Same {
			t.Fatalf("result = %+v, want src/a.v same", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no result published")
	}

	if st, ok := cache.GetState(proj.ProjectID, "src/a.v"); !ok || st != state.Same {
		t.Fatalf("cache after classification = %q, %v", st, ok)
	}
}

func TestWatcherPollDetectsChanges(t *testing.T) {
	proj := testProject(t)
	work := initRepo(t, proj.WorkingDir)
	initRepo(t, proj.ProductionDir)

	write(t, proj.WorkingDir, "a.txt", "one\n")
	if err := work.AddAll(); err != nil {
		t.Fatal(err)
	}
	if err := work.Commit("init"); err != nil {
		t.Fatal(err)
	}

	bus := EventBus.New()
	changed := make(chan []string, 4)
	if err := bus.Subscribe(events.EventWatcherChanged, func(paths []string) {
		changed <- paths
	}); err != nil {
		t.Fatal(err)
	}

	cache := newCache(t)
	cache.PutState(proj.ProjectID, "a.txt", state.Same)

	s := New(proj, cache, bus)
	w := NewWatcher(s)

	w.poll() // clean tree, nothing to report
	select {
	case p := <-changed:
		t.Fatalf("clean tree reported changes: %v", p)
	default:
	}

	write(t, proj.WorkingDir, "a.txt", "two\n")
	w.poll()

	select {
	case paths := <-changed:
		if len(paths) != 1 || paths[0] != "a.txt" {
			t.Fatalf("changed = %v", paths)
		}
	default:
		t.Fatal("edit not detected by poll")
	}

	if _, ok := cache.GetState(proj.ProjectID, "a.txt"); ok {
		t.Fatal("cache entry for edited path not invalidated")
	}

	// A second poll with the same dirty state stays quiet.
	w.poll()
	select {
	case p := <-changed:
		t.Fatalf("unchanged dirty state re-reported: %v", p)
	default:
	}
}
