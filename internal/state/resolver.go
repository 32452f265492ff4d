package state

import (
	"fmt"
	"os"
	"path/filepath"

	"cccopy/internal/config"
	"cccopy/internal/gitx"
)

// TrackedFn supplies a HEAD tracked-set (relative path -> blob hash).
// Callers wire these to the tracked-files cache so a refresh burst does not
// run ls-tree once per path.
type TrackedFn func() (map[string]string, error)

// Resolver materializes the comparison tuple for one path from the two
// working trees and their HEADs.
type Resolver struct {
	Work gitx.Repo
	Prod gitx.Repo

	TrackedWork TrackedFn
	TrackedProd TrackedFn
}

// NewResolver builds a resolver with uncached ls-tree lookups; callers that
// refresh in bulk replace the Tracked functions with cached ones.
func NewResolver(work, prod gitx.Repo) *Resolver {
	r := &Resolver{Work: work, Prod: prod}
	r.TrackedWork = r.Work.LsTreeHead
	r.TrackedProd = r.Prod.LsTreeHead
	return r
}

// TrackedCache is the slice of the tracked-files cache the resolver needs.
type TrackedCache interface {
	TrackedAt(repo gitx.Repo, rev string) (map[string]string, error)
}

// WorkHeadTracked reads the Work HEAD tree through the cache.
func WorkHeadTracked(c TrackedCache, work gitx.Repo) TrackedFn {
	return func() (map[string]string, error) {
		return c.TrackedAt(work, "")
	}
}

// ProductionBaseTracked reads the Production tree at the base commit
// recorded by the last download (the production tag). The recorded commit
// is what "Production HEAD" means from this work tree's point of view: it
// is the HEAD the last synchronization was based on, so a file whose
// current Production content differs from it is a remote update. Before the
// first download, or when the recorded commit no longer resolves, the
// current Production HEAD serves instead.
func ProductionBaseTracked(c TrackedCache, prod gitx.Repo, workingDir string) TrackedFn {
	return func() (map[string]string, error) {
		rev := ""
		if st, err := config.LoadLocalState(workingDir); err == nil {
			rev, _ = st.TagParts()
		}
		set, err := c.TrackedAt(prod, rev)
		if err != nil && rev != "" {
			return c.TrackedAt(prod, "")
		}
		return set, err
	}
}

// RecordFor assembles the Record for one relative path.
func (r *Resolver) RecordFor(rel string) (Record, error) {
	rec := Record{Path: rel}

	workPath := filepath.Join(r.Work.Dir, rel)
	prodPath := filepath.Join(r.Prod.Dir, rel)

	if fi, err := os.Stat(workPath); err == nil && fi.Mode().IsRegular() {
		rec.ExistsWork = true
		hash, err := r.Work.HashObject(rel)
		if err != nil {
			return rec, fmt.Errorf("hash work copy of %s: %w", rel, err)
		}
		rec.HashWork = hash
	}
	if fi, err := os.Stat(prodPath); err == nil && fi.Mode().IsRegular() {
		rec.ExistsProd = true
		hash, err := r.Prod.HashObject(rel)
		if err != nil {
			return rec, fmt.Errorf("hash production copy of %s: %w", rel, err)
		}
		rec.HashProd = hash
	}

	if rec.ExistsWork || rec.ExistsProd {
		workHead, err := r.TrackedWork()
		if err != nil {
			return rec, fmt.Errorf("work HEAD tree: %w", err)
		}
		prodHead, err := r.TrackedProd()
		if err != nil {
			return rec, fmt.Errorf("production HEAD tree: %w", err)
		}
		rec.HashWorkHead = workHead[rel]
		rec.HashProdHead = prodHead[rel]
	}
	return rec, nil
}

// StateFor is RecordFor followed by Classify.
func (r *Resolver) StateFor(rel string) (FileState, bool, error) {
	rec, err := r.RecordFor(rel)
	if err != nil {
		return "", false, err
	}
	st, emit := Classify(rec)
	return st, emit, nil
}
