package syncer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cccopy/internal/config"
	"cccopy/internal/lockdir"
	"cccopy/internal/privilege"
	"cccopy/internal/state"
)

// Upload transfers locally modified files into Production and commits them
// there with the invoking user as author. A modified Work .gitignore never
// propagates: Production's copy is restored on top and the upload continues
// without it.
func (p *Pipeline) Upload(message string) (*Outcome, error) {
	out := &Outcome{Op: "upload"}

	if !p.work.IsRepo() {
		return nil, fmt.Errorf("%w: work repository missing, run download first", config.ErrConfig)
	}
	if _, err := os.Stat(p.Proj.ProductionDir); err != nil {
		return nil, fmt.Errorf("%w: production directory %s not reachable: %v",
			config.ErrConfig, p.Proj.ProductionDir, err)
	}

	lock, err := lockdir.Acquire(p.Proj.LockRoot(), productionLockName, p.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	priv, err := privilege.Enter(p.Proj.UploadGroup, "upload", p.Audit)
	if err != nil {
		return nil, err
	}
	defer priv.Exit()

	if warn := p.enforceCentralGitignore(); warn != "" {
		out.Warnings = append(out.Warnings, warn)
	}

	if err := p.salvageDirectEdits(); err != nil {
		return nil, err
	}

	var modified []string
	for _, rel := range p.collectFiles(true) {
		if rel == ".gitignore" {
			continue
		}
		st, emit, err := p.resolver.StateFor(rel)
		if err != nil {
			return nil, err
		}
		if !emit {
			continue
		}
		switch st {
		case state.Modified:
			modified = append(modified, rel)
		case state.Conflicted:
			c := Conflict{
				Path:           rel,
				WorkFile:       filepath.Join(p.Proj.WorkingDir, rel),
				ProductionFile: filepath.Join(p.Proj.ProductionDir, rel),
			}
			out.Conflicts = append(out.Conflicts, c)
			p.publishConflict(c)
		case state.Same:
			out.Same++
		}
	}

	if len(out.Conflicts) > 0 {
		return out, fmt.Errorf("%w: resolve via download before uploading", ErrConflictPresent)
	}
	if len(modified) == 0 {
		out.Warnings = append(out.Warnings, "nothing to upload")
		return out, nil
	}

	gid := privilege.GroupGID(p.Proj.UploadGroup)
	for _, rel := range modified {
		workFile := filepath.Join(p.Proj.WorkingDir, rel)
		prodFile := filepath.Join(p.Proj.ProductionDir, rel)

		if p.Proj.BackupCount > 0 {
			p.backupProductionFile(prodFile)
		}
		if err := copyFile(workFile, prodFile); err != nil {
			return nil, fmt.Errorf("copy %s: %w", rel, err)
		}
		// The whole team must be able to take the next upload over this
		// file: hand it to the upload group and open group write.
		if gid >= 0 {
			_ = os.Chown(prodFile, -1, gid)
		}
		if fi, err := os.Stat(prodFile); err == nil {
			_ = os.Chmod(prodFile, fi.Mode().Perm()|0o020)
		}
		out.Uploaded++
		p.Out.Printf("  ⬆ %s\n", rel)
	}

	if err := p.prod.AddAll(); err != nil {
		return nil, err
	}
	if err := p.prod.CommitAuthor(message, userAuthor()); err != nil {
		return nil, err
	}

	local, err := config.LoadLocalState(p.Proj.WorkingDir)
	if err == nil {
		p.saveProductionTag(local)
	}

	p.invalidateCaches()
	return out, nil
}

// enforceCentralGitignore restores Production's .gitignore over a diverging
// Work copy. Returns a warning string when it had to intervene.
func (p *Pipeline) enforceCentralGitignore() string {
	prodIgnore := filepath.Join(p.Proj.ProductionDir, ".gitignore")
	workIgnore := filepath.Join(p.Proj.WorkingDir, ".gitignore")

	prodContent, err := os.ReadFile(prodIgnore)
	if err != nil {
		return ""
	}
	workContent, err := os.ReadFile(workIgnore)
	if err == nil && string(workContent) == string(prodContent) {
		return ""
	}
	if errors.Is(err, os.ErrNotExist) {
		_ = os.WriteFile(workIgnore, prodContent, 0o644)
		return ""
	}
	_ = os.WriteFile(workIgnore, prodContent, 0o644)
	return ".gitignore can only be changed in production; your work copy was replaced"
}
