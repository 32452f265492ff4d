package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// LocalState is the small mutable per-work-tree state file at
// .cccopy/status/state.yaml. The production tag records which Production
// commit the last Download was based on, together with a fingerprint of the
// SOURCES patterns active at the time so a later pattern edit is detectable.
type LocalState struct {
	ProductionTag string    `yaml:"production_tag,omitempty"`
	LastDownload  time.Time `yaml:"last_download,omitempty"`
	LastUpload    time.Time `yaml:"last_upload,omitempty"`
}

func localStatePath(workingDir string) string {
	return filepath.Join(workingDir, ".cccopy", "status", "state.yaml")
}

// LoadLocalState reads the state file; a missing file is an empty state.
func LoadLocalState(workingDir string) (*LocalState, error) {
	data, err := os.ReadFile(localStatePath(workingDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &LocalState{}, nil
		}
		return nil, fmt.Errorf("read local state: %w", err)
	}
	var s LocalState
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse local state: %w", err)
	}
	return &s, nil
}

// Save writes the state file, creating .cccopy/status on first use.
func (s *LocalState) Save(workingDir string) error {
	path := localStatePath(workingDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal local state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write local state: %w", err)
	}
	return nil
}

// SetProductionTag records "<commit>:<sources fingerprint>".
func (s *LocalState) SetProductionTag(commit, fingerprint string) {
	s.ProductionTag = commit + ":" + fingerprint
}

// TagParts splits the recorded tag. Old-format tags without a fingerprint
// yield an empty fingerprint.
func (s *LocalState) TagParts() (commit, fingerprint string) {
	if s.ProductionTag == "" {
		return "", ""
	}
	commit, fingerprint, _ = strings.Cut(s.ProductionTag, ":")
	return commit, fingerprint
}

// SourcesFingerprint hashes the source patterns order-independently so two
// settings files listing the same patterns in different order agree.
func SourcesFingerprint(patterns []string) string {
	sorted := append([]string(nil), patterns...)
	sort.Strings(sorted)
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(sorted, "|")))
}
