// Package statecache persists classification results and Git tracked-set
// snapshots in a small sqlite database under the work tree's .cccopy
// directory. Entries carry their computation time; reads past the TTL miss
// and the caller recomputes. The sync pipeline invalidates explicitly after
// every mutation it performs.
package statecache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cccopy/internal/gitx"
	"cccopy/internal/state"
)

const (
	// StateTTL bounds how long a classified state may be served without
	// recomputation.
	StateTTL = 300 * time.Second
	// TrackedTTL bounds the ls-tree snapshot reuse window.
	TrackedTTL = 60 * time.Second

	shardCount = 8
)

// StateEntry is one cached classification result.
type StateEntry struct {
	ID         uint   `gorm:"primarykey"`
	ProjectID  int    `gorm:"uniqueIndex:idx_project_path;not null"`
	Path       string `gorm:"uniqueIndex:idx_project_path;not null"`
	State      string `gorm:"not null"`
	ComputedAt time.Time
}

// TrackedEntry is one cached (repo, HEAD) -> tracked-set snapshot. The path
// to blob-hash map is stored as JSON.
type TrackedEntry struct {
	ID       uint   `gorm:"primarykey"`
	Repo     string `gorm:"uniqueIndex:idx_repo_head;not null"`
	Head     string `gorm:"uniqueIndex:idx_repo_head;not null"`
	Paths    string `gorm:"not null"`
	StoredAt time.Time
}

// Cache wraps the database with per-project shard locks so concurrent
// refreshes of different projects do not contend on one mutex.
type Cache struct {
	db     *gorm.DB
	shards [shardCount]sync.Mutex
	trkMu  sync.Mutex

	now func() time.Time // test hook
}

// Open connects (creating the schema when needed).
func Open(dbPath string) (*Cache, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open state cache: %w", err)
	}
	if err := db.AutoMigrate(&StateEntry{}, &TrackedEntry{}); err != nil {
		return nil, fmt.Errorf("migrate state cache: %w", err)
	}
	return &Cache{db: db, now: time.Now}, nil
}

func (c *Cache) shard(projectID int) *sync.Mutex {
	return &c.shards[xxhash.Sum64String(fmt.Sprintf("p%d", projectID))%shardCount]
}

// GetState returns a cached state when it exists and is younger than
// StateTTL.
func (c *Cache) GetState(projectID int, path string) (state.FileState, bool) {
	mu := c.shard(projectID)
	mu.Lock()
	defer mu.Unlock()

	var entry StateEntry
	err := c.db.Where("project_id = ? AND path = ?", projectID, path).First(&entry).Error
	if err != nil {
		return "", false
	}
	if c.now().Sub(entry.ComputedAt) > StateTTL {
		return "", false
	}
	return state.FileState(entry.State), true
}

// PutState stores or refreshes one classification result.
func (c *Cache) PutState(projectID int, path string, st state.FileState) {
	mu := c.shard(projectID)
	mu.Lock()
	defer mu.Unlock()

	entry := StateEntry{ProjectID: projectID, Path: path, State: string(st), ComputedAt: c.now()}
	c.db.Where("project_id = ? AND path = ?", projectID, path).
		Assign(map[string]any{"state": entry.State, "computed_at": entry.ComputedAt}).
		FirstOrCreate(&entry)
}

// InvalidateState drops specific paths, or the whole project when no paths
// are given.
func (c *Cache) InvalidateState(projectID int, paths ...string) {
	mu := c.shard(projectID)
	mu.Lock()
	defer mu.Unlock()

	q := c.db.Unscoped().Where("project_id = ?", projectID)
	if len(paths) > 0 {
		q = q.Where("path IN ?", paths)
	}
	q.Delete(&StateEntry{})
}

// GetTracked returns the cached tracked set for (repo, head) when younger
// than TrackedTTL.
func (c *Cache) GetTracked(repo, head string) (map[string]string, bool) {
	c.trkMu.Lock()
	defer c.trkMu.Unlock()

	var entry TrackedEntry
	err := c.db.Where("repo = ? AND head = ?", repo, head).First(&entry).Error
	if err != nil {
		return nil, false
	}
	if c.now().Sub(entry.StoredAt) > TrackedTTL {
		return nil, false
	}
	var paths map[string]string
	if err := json.Unmarshal([]byte(entry.Paths), &paths); err != nil {
		return nil, false
	}
	return paths, true
}

// PutTracked stores the tracked set for (repo, head), replacing any older
// snapshot of the same repo.
func (c *Cache) PutTracked(repo, head string, paths map[string]string) {
	c.trkMu.Lock()
	defer c.trkMu.Unlock()

	data, err := json.Marshal(paths)
	if err != nil {
		return
	}
	// HEAD moved: older snapshots of this repo are dead weight.
	c.db.Unscoped().Where("repo = ? AND head <> ?", repo, head).Delete(&TrackedEntry{})

	entry := TrackedEntry{Repo: repo, Head: head, Paths: string(data), StoredAt: c.now()}
	c.db.Where("repo = ? AND head = ?", repo, head).
		Assign(map[string]any{"paths": entry.Paths, "stored_at": entry.StoredAt}).
		FirstOrCreate(&entry)
}

// TrackedAt resolves the tracked set of a repository at rev through the
// cache. An empty rev means the repository's current HEAD; an unborn HEAD
// resolves to an empty set.
func (c *Cache) TrackedAt(repo gitx.Repo, rev string) (map[string]string, error) {
	if rev == "" {
		head, err := repo.HeadCommit()
		if err != nil {
			return nil, err
		}
		if head == "" {
			return map[string]string{}, nil
		}
		rev = head
	}
	if set, ok := c.GetTracked(repo.Dir, rev); ok {
		return set, nil
	}
	set, err := repo.LsTreeAt(rev)
	if err != nil {
		return nil, err
	}
	c.PutTracked(repo.Dir, rev, set)
	return set, nil
}

// InvalidateTracked drops every snapshot of one repo.
func (c *Cache) InvalidateTracked(repo string) {
	c.trkMu.Lock()
	defer c.trkMu.Unlock()
	c.db.Unscoped().Where("repo = ?", repo).Delete(&TrackedEntry{})
}

// Close releases the underlying connection.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
