// Package refresh keeps the file-state view responsive: a bounded foreground
// scan publishes placeholder rows immediately while a small worker pool
// computes Git-backed states in the background. Every batch carries a
// generation id; results from a superseded generation are dropped at apply
// time, never applied late.
package refresh

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/asaskevich/EventBus"
	"golang.org/x/sync/errgroup"

	"cccopy/internal/config"
	"cccopy/internal/events"
	"cccopy/internal/gitx"
	"cccopy/internal/pattern"
	"cccopy/internal/state"
	"cccopy/internal/statecache"
)

// DefaultWorkers is the classification pool size.
const DefaultWorkers = 2

// Row is what the foreground scan hands the UI for one directory entry.
type Row struct {
	Path  string // project-relative
	IsDir bool
	State state.FileState
}

// Result is one background classification, published on the bus as
// events.EventRefreshRow.
type Result struct {
	Generation uint64
	ProjectID  int
	Path       string
	State      state.FileState
}

type task struct {
	gen uint64
	rel string
}

// Scheduler owns the worker pool and the generation counter.
type Scheduler struct {
	proj     *config.Project
	matcher  *pattern.Matcher
	resolver *state.Resolver
	cache    *statecache.Cache
	bus      EventBus.Bus

	Workers int

	gen    atomic.Uint64
	curDir atomic.Value // string, the directory on display

	tasks  chan task
	cancel context.CancelFunc
	eg     *errgroup.Group

	mu        sync.Mutex
	remaining int
	countGen  uint64
}

// New wires a scheduler. The resolver's tracked-set lookups are routed
// through the tracked-files cache so one refresh burst costs at most one
// ls-tree per repo.
func New(proj *config.Project, cache *statecache.Cache, bus EventBus.Bus) *Scheduler {
	work := gitx.Repo{Dir: proj.WorkingDir}
	prod := gitx.Repo{Dir: proj.ProductionDir}

	resolver := state.NewResolver(work, prod)
	resolver.TrackedWork = state.WorkHeadTracked(cache, work)
	resolver.TrackedProd = state.ProductionBaseTracked(cache, prod, proj.WorkingDir)

	s := &Scheduler{
		proj:     proj,
		matcher:  pattern.New(proj.Sources, proj.Excludes),
		resolver: resolver,
		cache:    cache,
		bus:      bus,
		Workers:  DefaultWorkers,
		tasks:    make(chan task, 1024),
	}
	s.curDir.Store(".")
	return s
}

// Start launches the worker pool. Stop (or context cancellation) winds it
// down; in-flight tasks finish but their results are discarded once a newer
// generation exists.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.eg, ctx = errgroup.WithContext(ctx)
	for i := 0; i < s.Workers; i++ {
		s.eg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case t, ok := <-s.tasks:
					if !ok {
						return nil
					}
					s.classify(t)
				}
			}
		})
	}
}

// Stop cancels the pool and waits for the workers to drain.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		_ = s.eg.Wait()
	}
}

// Generation returns the id of the latest refresh batch.
func (s *Scheduler) Generation() uint64 { return s.gen.Load() }

// Refresh scans the immediate children of dir (project-relative, "." for
// the root), publishes rows synchronously, and queues Git-backed
// classification for every file row that had no fresh cache entry. It
// returns the rows and the new generation id.
func (s *Scheduler) Refresh(dir string) ([]Row, uint64) {
	gen := s.gen.Add(1)
	s.curDir.Store(dir)
	s.bus.Publish(events.EventRefreshStarted, gen)

	rows := s.scanDir(dir)

	var queued []task
	for i := range rows {
		if rows[i].IsDir {
			continue
		}
		if st, ok := s.cache.GetState(s.proj.ProjectID, rows[i].Path); ok {
			rows[i].State = st
			continue
		}
		rows[i].State = state.Pending
		queued = append(queued, task{gen: gen, rel: rows[i].Path})
	}

	s.mu.Lock()
	s.countGen = gen
	s.remaining = len(queued)
	s.mu.Unlock()
	if len(queued) == 0 {
		s.bus.Publish(events.EventRefreshDrained, gen)
	}

	for _, t := range queued {
		select {
		case s.tasks <- t:
		default:
			// Queue full; the row stays pending until the next refresh.
			s.taskDone(t.gen)
		}
	}
	return rows, gen
}

// Invalidate drops cached states for the given paths and, for paths inside
// the displayed directory, re-queues classification at the current
// generation. The watcher calls this on every detected change.
func (s *Scheduler) Invalidate(paths []string) {
	if len(paths) == 0 {
		return
	}
	s.cache.InvalidateState(s.proj.ProjectID, paths...)
	s.cache.InvalidateTracked(s.proj.WorkingDir)

	cur, _ := s.curDir.Load().(string)
	gen := s.gen.Load()
	for _, p := range paths {
		if path.Dir(p) != cur {
			continue
		}
		s.mu.Lock()
		if s.countGen == gen {
			s.remaining++
		}
		s.mu.Unlock()
		select {
		case s.tasks <- task{gen: gen, rel: p}:
		default:
			s.taskDone(gen)
		}
	}
	s.bus.Publish(events.EventWatcherChanged, paths)
}

func (s *Scheduler) classify(t task) {
	if t.gen < s.gen.Load() {
		// Superseded before we even started; nothing to compute.
		s.taskDone(t.gen)
		return
	}

	st, emit, err := s.resolver.StateFor(t.rel)
	if err != nil || !emit {
		// Workers never raise into the UI; a failed classification simply
		// leaves the row pending and the next refresh retries.
		s.taskDone(t.gen)
		return
	}
	s.cache.PutState(s.proj.ProjectID, t.rel, st)

	// Discard at apply time when a newer generation has begun.
	if t.gen == s.gen.Load() {
		s.bus.Publish(events.EventRefreshRow, Result{
			Generation: t.gen,
			ProjectID:  s.proj.ProjectID,
			Path:       t.rel,
			State:      st,
		})
	}
	s.taskDone(t.gen)
}

func (s *Scheduler) taskDone(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.countGen {
		return
	}
	if s.remaining--; s.remaining == 0 {
		s.bus.Publish(events.EventRefreshDrained, gen)
	}
}

// scanDir lists the union of work and production children of dir,
// non-recursive, filtered by the project patterns. Directories survive the
// filter when they are not excluded outright, so the user can navigate into
// them even before any member file is classified.
func (s *Scheduler) scanDir(dir string) []Row {
	type entry struct{ isDir bool }
	seen := map[string]entry{}

	for _, root := range []string{s.proj.WorkingDir, s.proj.ProductionDir} {
		list, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(dir)))
		if err != nil {
			continue
		}
		for _, de := range list {
			rel := path.Join(dir, de.Name())
			if de.IsDir() {
				if !s.matcher.Excluded(rel + "/") {
					seen[rel] = entry{isDir: true}
				}
				continue
			}
			if s.matcher.Member(rel) {
				if _, ok := seen[rel]; !ok {
					seen[rel] = entry{}
				}
			}
		}
	}

	rows := make([]Row, 0, len(seen))
	for rel, e := range seen {
		rows = append(rows, Row{Path: rel, IsDir: e.isDir})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].IsDir != rows[j].IsDir {
			return rows[i].IsDir
		}
		return rows[i].Path < rows[j].Path
	})
	return rows
}
