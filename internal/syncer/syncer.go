// Package syncer orchestrates Download, Upload and Save across the two
// working trees. Every Production mutation happens under the production
// lock, and every Production write additionally inside a privilege scope;
// the nesting is always lock outside, privilege inside.
package syncer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"time"

	"github.com/asaskevich/EventBus"

	"cccopy/internal/config"
	"cccopy/internal/events"
	"cccopy/internal/gitx"
	"cccopy/internal/pattern"
	"cccopy/internal/privilege"
	"cccopy/internal/state"
	"cccopy/internal/statecache"
	"cccopy/internal/util"
)

const (
	productionLockName = "production"

	adminName  = "cccopy_admin"
	adminEmail = "admin@cccopy.com"

	directEditAuthor = "direct-edit <direct-edit@cccopy.com>"

	msgSalvage  = "auto: salvage direct edits"
	msgNewFiles = "auto: sync new files from production"
)

// ErrConflictPresent is returned by Upload when conflicted paths block the
// transfer; Download never returns it, conflicts only reduce its scope.
var ErrConflictPresent = errors.New("conflicted paths present")

// Prompter is the thin slice of UI the pipeline needs. Prompts happen only
// outside lock and privilege scopes or with both already released.
type Prompter interface {
	Confirm(message string, def bool) bool
	Input(message, def string) (string, error)
}

// Conflict identifies one path that needs the external diff tool.
type Conflict struct {
	Path           string
	WorkFile       string
	ProductionFile string
}

// Outcome summarizes one pipeline run for the UI.
type Outcome struct {
	Op        string
	Updated   int
	Uploaded  int
	Same      int
	Modified  int
	NewFiles  []string
	Conflicts []Conflict
	Warnings  []string
}

// Pipeline carries the explicit context for every operation; there is no
// process-wide mutable singleton behind it.
type Pipeline struct {
	Proj  *config.Project
	Cache *statecache.Cache
	Bus   EventBus.Bus
	Audit *privilege.AuditLog
	UI    Prompter
	Out   *util.SafePrinter

	// LockTimeout bounds production lock acquisition.
	LockTimeout time.Duration

	work     gitx.Repo
	prod     gitx.Repo
	matcher  *pattern.Matcher
	resolver *state.Resolver
}

// New assembles a pipeline for one project.
func New(proj *config.Project, cache *statecache.Cache, bus EventBus.Bus, audit *privilege.AuditLog, ui Prompter) *Pipeline {
	p := &Pipeline{
		Proj:        proj,
		Cache:       cache,
		Bus:         bus,
		Audit:       audit,
		UI:          ui,
		Out:         util.Default,
		LockTimeout: 5 * time.Second,
		work:        gitx.Repo{Dir: proj.WorkingDir},
		prod:        gitx.Repo{Dir: proj.ProductionDir},
		matcher:     pattern.New(proj.Sources, proj.Excludes),
	}
	p.resolver = state.NewResolver(p.work, p.prod)
	p.resolver.TrackedWork = state.WorkHeadTracked(cache, p.work)
	p.resolver.TrackedProd = state.ProductionBaseTracked(cache, p.prod, proj.WorkingDir)
	return p
}

func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func userAuthor() string {
	name := currentUsername()
	return fmt.Sprintf("%s <%s@cccopy.com>", name, name)
}

// collectFiles walks Production (and optionally Work) and returns the
// sorted set of project-relative member paths.
func (p *Pipeline) collectFiles(includeWorkOnly bool) []string {
	seen := map[string]struct{}{}
	roots := []string{p.Proj.ProductionDir}
	if includeWorkOnly {
		roots = append(roots, p.Proj.WorkingDir)
	}
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if rel != "." && p.matcher.Excluded(rel+"/") {
					return filepath.SkipDir
				}
				return nil
			}
			if p.matcher.Member(rel) {
				seen[rel] = struct{}{}
			}
			return nil
		})
	}
	paths := make([]string, 0, len(seen))
	for rel := range seen {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths
}

// memberStatusPaths filters porcelain entries down to project members.
func (p *Pipeline) memberStatusPaths(entries []gitx.StatusEntry) (members, outside []string) {
	for _, e := range entries {
		if p.matcher.Member(e.Path) {
			members = append(members, e.Path)
		} else {
			outside = append(outside, e.Path)
		}
	}
	return members, outside
}

// copyFile copies src over dst preserving the file mode, creating parent
// directories as needed.
func copyFile(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o775); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// invalidateCaches drops everything derived from either tree after a
// mutation.
func (p *Pipeline) invalidateCaches() {
	p.Cache.InvalidateState(p.Proj.ProjectID)
	p.Cache.InvalidateTracked(p.Proj.WorkingDir)
	p.Cache.InvalidateTracked(p.Proj.ProductionDir)
}

// salvageDirectEdits commits changes made to Production outside this tool,
// restricted to project members, so the following transfer starts from a
// clean tree. Caller must hold the lock and the privilege scope.
func (p *Pipeline) salvageDirectEdits() error {
	if !p.prod.IsRepo() {
		return nil
	}
	entries, err := p.prod.StatusPorcelain()
	if err != nil {
		return err
	}
	members, _ := p.memberStatusPaths(entries)
	if len(members) == 0 {
		return nil
	}

	p.Out.Printf("⚠️  %d file(s) edited directly in production, committing them first\n", len(members))
	if err := p.prod.Add(members...); err != nil {
		return err
	}
	return p.prod.CommitAuthor(msgSalvage, directEditAuthor)
}

// saveProductionTag records the Production HEAD plus the SOURCES
// fingerprint in the work-side state file.
func (p *Pipeline) saveProductionTag(st *config.LocalState) {
	head, err := p.prod.HeadCommit()
	if err != nil || head == "" {
		return
	}
	st.SetProductionTag(head, config.SourcesFingerprint(p.Proj.Sources))
	if err := st.Save(p.Proj.WorkingDir); err != nil {
		p.Out.Printf("⚠️  failed to save production tag: %v\n", err)
	}
}

func (p *Pipeline) publishConflict(c Conflict) {
	if p.Bus != nil {
		p.Bus.Publish(events.EventConflictDetected, c)
	}
}
