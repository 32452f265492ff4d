package syncer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cccopy/internal/config"
	"cccopy/internal/gitx"
	"cccopy/internal/lockdir"
	"cccopy/internal/privilege"
	"cccopy/internal/state"
)

// Download transfers Production changes into the Work tree. Conflicted
// paths are surfaced, never overwritten; the rest of the download proceeds.
func (p *Pipeline) Download() (*Outcome, error) {
	out := &Outcome{Op: "download"}

	if _, err := os.Stat(p.Proj.ProductionDir); err != nil {
		return nil, fmt.Errorf("%w: production directory %s not reachable: %v",
			config.ErrConfig, p.Proj.ProductionDir, err)
	}

	local, err := config.LoadLocalState(p.Proj.WorkingDir)
	if err != nil {
		return nil, err
	}

	// A SOURCES edit changes what this project tracks; make the user
	// acknowledge before the file list silently shifts. Prompting happens
	// before the lock so nobody waits on a dialog.
	if _, fp := local.TagParts(); fp != "" {
		current := config.SourcesFingerprint(p.Proj.Sources)
		if fp != current && p.UI != nil {
			if !p.UI.Confirm("SOURCES patterns changed since the last download; the file list may differ. Continue?", false) {
				out.Warnings = append(out.Warnings, "download cancelled: SOURCES patterns changed")
				return out, nil
			}
		}
	}

	lock, err := lockdir.Acquire(p.Proj.LockRoot(), productionLockName, p.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if err := p.bootstrapProduction(); err != nil {
		return nil, err
	}

	firstInit := !p.work.IsRepo()
	if firstInit {
		p.Out.Println("initializing work repository")
		if err := p.work.Init(); err != nil {
			return nil, err
		}
		name := currentUsername()
		if err := p.work.SetUser(name, name+"@cccopy.com"); err != nil {
			return nil, err
		}
		gitx.ConfigureSafeDirectory(p.Proj.WorkingDir)
	}

	gitignoreChanged, warn, err := p.syncGitignoreFromProduction()
	if err != nil {
		return nil, err
	}
	if warn != "" {
		out.Warnings = append(out.Warnings, warn)
	}
	if gitignoreChanged && !firstInit {
		// Re-apply the new ignore rules to the Work index.
		if tracked, terr := p.work.LsTreeHead(); terr == nil && len(tracked) > 0 {
			if err := p.work.RemoveCachedAll(); err != nil {
				p.Out.Printf("⚠️  git cache refresh warning: %v\n", err)
			}
		}
		if err := p.work.AddAll(); err != nil {
			return nil, err
		}
	}

	files := p.collectFiles(false)
	p.Out.Printf("📁 %d file(s) in project scope\n", len(files))

	var newFiles []string
	for _, rel := range files {
		st, emit, err := p.resolver.StateFor(rel)
		if err != nil {
			return nil, err
		}
		if !emit {
			continue
		}

		workFile := filepath.Join(p.Proj.WorkingDir, rel)
		prodFile := filepath.Join(p.Proj.ProductionDir, rel)

		switch st {
		case state.Updated, state.Deleted:
			// Deleted means absent in Work: fetching it is exactly what a
			// download is for.
			wasNew := st == state.Deleted
			if err := copyFile(prodFile, workFile); err != nil {
				return nil, fmt.Errorf("copy %s: %w", rel, err)
			}
			out.Updated++
			if wasNew {
				newFiles = append(newFiles, rel)
			}
			p.Out.Printf("  ⬇ %s\n", rel)
		case state.Same:
			out.Same++
		case state.Modified:
			out.Modified++
		case state.Conflicted:
			c := Conflict{Path: rel, WorkFile: workFile, ProductionFile: prodFile}
			out.Conflicts = append(out.Conflicts, c)
			p.publishConflict(c)
			p.Out.Printf("  ✗ conflict: %s (left untouched)\n", rel)
		}
	}

	if len(newFiles) > 0 {
		if err := p.work.Add(newFiles...); err != nil {
			return nil, err
		}
		if err := p.work.Commit(msgNewFiles); err != nil {
			return nil, err
		}
		out.NewFiles = newFiles
	}

	if len(out.Conflicts) == 0 {
		p.saveProductionTag(local)
	} else {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("%d conflicted path(s) kept their work copies; production tag not advanced", len(out.Conflicts)))
	}

	p.invalidateCaches()
	return out, nil
}

// bootstrapProduction initializes the shared repository on first contact:
// dummy committer identity, central .gitignore, initial commit authored by
// the bootstrapping user.
func (p *Pipeline) bootstrapProduction() error {
	if p.prod.IsRepo() {
		// Established repo: salvage any direct edits before comparing
		// trees, so classification sees a committed Production HEAD.
		priv, err := privilege.Enter(p.Proj.UploadGroup, "download: salvage direct edits", p.Audit)
		if err != nil {
			return err
		}
		defer priv.Exit()
		return p.salvageDirectEdits()
	}

	p.Out.Println("initializing production repository")
	priv, err := privilege.Enter(p.Proj.UploadGroup, "download: bootstrap production", p.Audit)
	if err != nil {
		return err
	}
	defer priv.Exit()

	if err := p.prod.Init(); err != nil {
		return err
	}
	if err := p.prod.SetUser(adminName, adminEmail); err != nil {
		return err
	}
	gitx.ConfigureSafeDirectory(p.Proj.ProductionDir)

	if err := p.writeProductionGitignore(); err != nil {
		return err
	}

	files := p.collectFiles(false)
	if err := p.prod.Add(append([]string{".gitignore"}, files...)...); err != nil {
		return err
	}
	return p.prod.CommitAuthor("Initial production repository", userAuthor())
}

// writeProductionGitignore creates the central ignore file from the
// project's exclude patterns. Only the Download pipeline ever writes a
// .gitignore.
func (p *Pipeline) writeProductionGitignore() error {
	var b strings.Builder
	b.WriteString("# cccopy internal directory\n.cccopy/\n")
	if len(p.Proj.Excludes) > 0 {
		b.WriteString("\n# exclude patterns from project settings\n")
		for _, pat := range p.Proj.Excludes {
			b.WriteString(pat + "\n")
		}
	}
	return os.WriteFile(filepath.Join(p.Proj.ProductionDir, ".gitignore"), []byte(b.String()), 0o664)
}

// syncGitignoreFromProduction copies the central .gitignore over the Work
// one. A diverging Work copy is backed up and replaced, with a warning.
func (p *Pipeline) syncGitignoreFromProduction() (changed bool, warning string, err error) {
	prodIgnore := filepath.Join(p.Proj.ProductionDir, ".gitignore")
	workIgnore := filepath.Join(p.Proj.WorkingDir, ".gitignore")

	prodContent, err := os.ReadFile(prodIgnore)
	if err != nil {
		if os.IsNotExist(err) {
			return false, "", nil
		}
		return false, "", err
	}

	workContent, err := os.ReadFile(workIgnore)
	switch {
	case err == nil && string(workContent) == string(prodContent):
		return false, "", nil
	case err == nil:
		backup := filepath.Join(p.Proj.CCCopyDir(), "gitignore.backup")
		if err := os.MkdirAll(filepath.Dir(backup), 0o755); err == nil {
			_ = os.WriteFile(backup, workContent, 0o644)
		}
		warning = ".gitignore is managed in production; your work copy was backed up and replaced"
	case !os.IsNotExist(err):
		return false, "", err
	}

	if err := os.WriteFile(workIgnore, prodContent, 0o644); err != nil {
		return false, warning, err
	}
	return true, warning, nil
}
