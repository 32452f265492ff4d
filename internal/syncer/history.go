package syncer

import (
	"cccopy/internal/gitx"
	"cccopy/internal/lockdir"
)

// WorkHistory lists the Work repository log, newest first.
func (p *Pipeline) WorkHistory(limit int) ([]gitx.Commit, error) {
	return p.work.Log(limit)
}

// ProductionHistory lists the Production log. Reading happens under the
// lock so the listing is not torn by a concurrent upload.
func (p *Pipeline) ProductionHistory(limit int) ([]gitx.Commit, error) {
	lock, err := lockdir.Acquire(p.Proj.LockRoot(), productionLockName, p.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	return p.prod.Log(limit)
}

// CommitDetail lists the files touched by one Production commit.
func (p *Pipeline) CommitDetail(hash string) ([]gitx.ChangedFile, error) {
	return p.prod.CommitFiles(hash)
}
