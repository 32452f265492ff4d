package refresh

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rjeczalik/notify"

	"cccopy/internal/gitx"
	"cccopy/internal/pattern"
)

// WatchInterval is the authoritative git-status poll period.
const WatchInterval = 5 * time.Second

// Watcher detects Work-tree edits. The 5 s `git status --porcelain` poll is
// the source of truth; filesystem notifications only pull the next poll
// forward so an edit shows up without the full wait. A quick content hash
// per notified path filters the editor-noise events (touch without change,
// atomic-save double fires).
type Watcher struct {
	sched *Scheduler
	work  gitx.Repo

	Interval time.Duration

	lastSeen map[string]string // porcelain path -> status code
	quick    map[string]uint64 // abs path -> xxhash of content
}

func NewWatcher(sched *Scheduler) *Watcher {
	return &Watcher{
		sched:    sched,
		work:     gitx.Repo{Dir: sched.proj.WorkingDir},
		Interval: WatchInterval,
		lastSeen: map[string]string{},
		quick:    map[string]uint64{},
	}
}

// Run blocks until ctx is done. Callers start it on its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	fsEvents := make(chan notify.EventInfo, 128)
	watchAll := filepath.Join(w.sched.proj.WorkingDir, "...")
	if err := notify.Watch(watchAll, fsEvents, notify.All); err == nil {
		defer notify.Stop(fsEvents)
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	// Coalesce notification bursts before forcing an early poll.
	var kick <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-fsEvents:
			if w.relevantEvent(ev.Path()) && kick == nil {
				kick = time.After(300 * time.Millisecond)
			}
		case <-kick:
			kick = nil
			w.poll()
			ticker.Reset(w.Interval)
		case <-ticker.C:
			w.poll()
		}
	}
}

// relevantEvent decides whether a filesystem event can possibly change a
// tracked state, hashing the file to drop no-op notifications.
func (w *Watcher) relevantEvent(abs string) bool {
	rel, err := filepath.Rel(w.sched.proj.WorkingDir, abs)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, ".git/") || strings.HasPrefix(rel, ".cccopy/") {
		return false
	}
	if !w.sched.matcher.Member(pattern.Normalize(rel)) {
		return false
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		// Deleted or unreadable: definitely a state change.
		delete(w.quick, abs)
		return true
	}
	sum := xxhash.Sum64(data)
	if prev, ok := w.quick[abs]; ok && prev == sum {
		return false
	}
	w.quick[abs] = sum
	return true
}

// poll diffs the porcelain output against the previous round and feeds the
// scheduler every path that appeared, changed code, or went clean.
func (w *Watcher) poll() {
	entries, err := w.work.StatusPorcelain()
	if err != nil {
		return
	}

	seen := make(map[string]string, len(entries))
	var changed []string
	for _, e := range entries {
		seen[e.Path] = e.Code
		if w.lastSeen[e.Path] != e.Code {
			changed = append(changed, e.Path)
		}
	}
	// Paths that were dirty last round and are gone now (committed or
	// reverted) changed state too.
	for p := range w.lastSeen {
		if _, ok := seen[p]; !ok {
			changed = append(changed, p)
		}
	}
	w.lastSeen = seen

	if len(changed) > 0 {
		w.sched.Invalidate(changed)
	}
}
