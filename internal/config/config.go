// Package config loads the project template and the per-user settings store.
// Templates are INI files: [CONFIG] for directories, [SOURCES]/[EXCLUDES]
// with numbered keys, [UPLOAD] for the shared group, [LOG] for the log path.
// Path values support ~, ${VAR} and $VAR expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// ErrConfig marks any template or settings problem; cmd maps it to exit
// code 5.
var ErrConfig = errors.New("invalid configuration")

// Project is the immutable per-session configuration.
type Project struct {
	ProjectID     int
	Name          string
	ProductionDir string
	WorkingDir    string
	Sources       []string
	Excludes      []string
	UploadGroup   string
	LogPath       string
	BackupCount   int
}

// CCCopyDir returns the work-side metadata directory.
func (p *Project) CCCopyDir() string {
	return filepath.Join(p.WorkingDir, ".cccopy")
}

// LockRoot returns the shared lock directory inside Production.
func (p *Project) LockRoot() string {
	return filepath.Join(p.ProductionDir, ".cccopy", "lock")
}

// ExpandPath expands ~, ${VAR} and $VAR in a configured path value.
func ExpandPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return os.ExpandEnv(p)
}

// stripComment drops inline ';' / '#' comments the way the settings files
// have always been written.
func stripComment(v string) string {
	if i := strings.IndexAny(v, ";#"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// numberedValues reads the numbered pattern keys of [SOURCES] / [EXCLUDES]
// in key order.
func numberedValues(sec *ini.Section) []string {
	if sec == nil {
		return nil
	}
	keys := sec.KeyStrings()
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	var out []string
	for _, k := range keys {
		if v := stripComment(sec.Key(k).String()); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadTemplate parses a project template INI.
func LoadTemplate(path string) (*Project, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read template %s: %v", ErrConfig, path, err)
	}

	cfg := f.Section("CONFIG")
	prod := ExpandPath(stripComment(cfg.Key("PRODUCTION_DIR").String()))
	if prod == "" {
		return nil, fmt.Errorf("%w: %s: [CONFIG] PRODUCTION_DIR is required", ErrConfig, path)
	}

	p := &Project{
		Name:          strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		ProductionDir: prod,
		WorkingDir:    ExpandPath(stripComment(cfg.Key("WORKING_BASE_DIR").String())),
		Sources:       numberedValues(f.Section("SOURCES")),
		Excludes:      numberedValues(f.Section("EXCLUDES")),
		UploadGroup:   stripComment(f.Section("UPLOAD").Key("GROUP").String()),
		LogPath:       ExpandPath(stripComment(f.Section("LOG").Key("PATH").String())),
	}
	p.BackupCount = f.Section("UPLOAD").Key("BACKUP_COUNT").MustInt(0)

	if len(p.Sources) == 0 {
		return nil, fmt.Errorf("%w: %s: [SOURCES] must list at least one pattern", ErrConfig, path)
	}
	return p, nil
}

// SettingsDir returns ~/.cccopy/<project-id> for the per-user settings
// store.
func SettingsDir(projectID int) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: resolve home directory: %v", ErrConfig, err)
	}
	return filepath.Join(home, ".cccopy", fmt.Sprintf("%04d", projectID)), nil
}

// LoadUserSettings overlays the per-user settings store onto a template.
// The store is consumed, not owned: only keys it actually defines override.
func LoadUserSettings(p *Project, projectID int) error {
	p.ProjectID = projectID
	dir, err := SettingsDir(projectID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "config.ini")
	f, err := ini.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read settings %s: %v", ErrConfig, path, err)
	}

	cfg := f.Section("CONFIG")
	if v := stripComment(cfg.Key("WORKING_BASE_DIR").String()); v != "" {
		p.WorkingDir = ExpandPath(v)
	}
	if v := stripComment(cfg.Key("PRODUCTION_DIR").String()); v != "" {
		p.ProductionDir = ExpandPath(v)
	}
	if info := f.Section("INFO"); info.HasKey("PROJECT_NAME") {
		p.Name = stripComment(info.Key("PROJECT_NAME").String())
	}
	return nil
}

// Validate checks the assembled configuration before any pipeline runs.
func (p *Project) Validate() error {
	if p.ProductionDir == "" {
		return fmt.Errorf("%w: production directory not set", ErrConfig)
	}
	if p.WorkingDir == "" {
		return fmt.Errorf("%w: working directory not set", ErrConfig)
	}
	if p.ProductionDir == p.WorkingDir {
		return fmt.Errorf("%w: production and working directory must differ", ErrConfig)
	}
	if len(p.Sources) == 0 {
		return fmt.Errorf("%w: no source patterns", ErrConfig)
	}
	return nil
}
