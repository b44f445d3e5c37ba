package optstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"
)

// EngineConfig is one entry of the engines catalog file.
type EngineConfig struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	DisplayName string            `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Path        string            `yaml:"path" json:"path"`
	Enabled     *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Options     map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (e EngineConfig) IsEnabled() bool { return e.Enabled == nil || *e.Enabled }

// Label is the display name, falling back to the name and then the id.
func (e EngineConfig) Label() string {
	switch {
	case e.DisplayName != "":
		return e.DisplayName
	case e.Name != "":
		return e.Name
	default:
		return e.ID
	}
}

type catalogFile struct {
	Engines []EngineConfig `yaml:"engines"`
}

// Catalog is the engines file: where each engine lives and its saved options.
type Catalog struct {
	path string

	mu      sync.RWMutex
	engines []EngineConfig
}

// LoadCatalog reads a catalog file. Relative engine paths are resolved
// against the file's directory.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := ParseCatalog(b, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.path = path
	return c, nil
}

// ParseCatalog decodes catalog YAML. baseDir anchors relative engine paths.
func ParseCatalog(b []byte, baseDir string) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Engines))
	for i := range f.Engines {
		e := &f.Engines[i]
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			return nil, fmt.Errorf("engine %d: id required", i)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("engine %s: duplicate id", e.ID)
		}
		seen[e.ID] = struct{}{}
		if strings.TrimSpace(e.Path) == "" {
			return nil, fmt.Errorf("engine %s: path required", e.ID)
		}
		if baseDir != "" && !filepath.IsAbs(e.Path) {
			e.Path = filepath.Join(baseDir, e.Path)
		}
	}
	return &Catalog{engines: f.Engines}, nil
}

// Engines returns the catalog entries sorted by id.
func (c *Catalog) Engines() []EngineConfig {
	c.mu.RLock()
	out := make([]EngineConfig, len(c.engines))
	copy(out, c.engines)
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Engine(id string) (EngineConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.engines {
		if e.ID == id {
			return e, true
		}
	}
	return EngineConfig{}, false
}

func (c *Catalog) EngineOptions(_ context.Context, engineID string) (map[string]string, bool, error) {
	e, ok := c.Engine(engineID)
	if !ok || e.Options == nil {
		return nil, false, nil
	}
	return maps.Clone(e.Options), true, nil
}

// SaveEngineOptions replaces the options of a known engine and rewrites the
// file when the catalog was loaded from one.
func (c *Catalog) SaveEngineOptions(_ context.Context, engineID string, opts map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := -1
	for i := range c.engines {
		if c.engines[i].ID == engineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("engine %s: %w", engineID, ErrUnknownEngine)
	}
	c.engines[idx].Options = maps.Clone(opts)
	if c.path == "" {
		return nil
	}
	b, err := yaml.Marshal(catalogFile{Engines: c.engines})
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return os.WriteFile(c.path, b, 0o644)
}

// ErrUnknownEngine is returned when saving options for an id the catalog lacks.
var ErrUnknownEngine = errors.New("engine not in catalog")
