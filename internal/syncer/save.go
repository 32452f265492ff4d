package syncer

import (
	"fmt"

	"cccopy/internal/config"
)

// Save commits pending Work changes inside the project scope. No lock: the
// Work tree belongs to this user alone.
func (p *Pipeline) Save(message string) (*Outcome, error) {
	out := &Outcome{Op: "save"}

	if !p.work.IsRepo() {
		return nil, fmt.Errorf("%w: work repository missing, run download first", config.ErrConfig)
	}

	entries, err := p.work.StatusPorcelain()
	if err != nil {
		return nil, err
	}
	members, outside := p.memberStatusPaths(entries)

	if len(outside) > 0 {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("%d changed file(s) outside the project scope were not committed", len(outside)))
	}
	if len(members) == 0 {
		out.Warnings = append(out.Warnings, "nothing to commit inside the project scope")
		return out, nil
	}

	if err := p.work.Add(members...); err != nil {
		return nil, err
	}
	if err := p.work.Commit(message); err != nil {
		return nil, err
	}
	out.Modified = len(members)

	p.Cache.InvalidateState(p.Proj.ProjectID, members...)
	p.Cache.InvalidateTracked(p.Proj.WorkingDir)
	return out, nil
}
