package toolregistry

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"ragchat/internal/apperr"
)

// persistedState is the on-disk shape (§4.B: "persists only enabled_names
// and per-function config, not handler code").
type persistedState struct {
	EnabledNames []string                  `yaml:"enabled_names"`
	Config       map[string]map[string]any `yaml:"config,omitempty"`
}

// LoadFromYAML reads path and applies enabled_names/config onto already
// registered definitions. Names present in the file but not registered are
// skipped; this lets the file outlive handler code being added/removed
// between releases.
func (r *Registry) LoadFromYAML(path string) error {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.New(apperr.Configuration, "toolregistry.LoadFromYAML", err)
	}

	var state persistedState
	if err := yaml.Unmarshal(b, &state); err != nil {
		return apperr.New(apperr.Configuration, "toolregistry.LoadFromYAML", fmt.Errorf("parse %s: %w", path, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.enabled = make(map[string]struct{}, len(state.EnabledNames))
	for _, name := range state.EnabledNames {
		if _, ok := r.byName[name]; ok {
			r.enabled[name] = struct{}{}
		}
	}
	for name, cfg := range state.Config {
		if d, ok := r.byName[name]; ok {
			d.Config = cfg
		}
	}
	return nil
}

// SaveToYAML persists the current enabled set and per-function config to
// path, writing to a temp file in the same directory and renaming into
// place so readers never observe a partial write.
func (r *Registry) SaveToYAML(path string) error {
	r.mu.RLock()
	state := persistedState{
		EnabledNames: make([]string, 0, len(r.enabled)),
		Config:       make(map[string]map[string]any),
	}
	for name := range r.enabled {
		state.EnabledNames = append(state.EnabledNames, name)
	}
	for name, d := range r.byName {
		if len(d.Config) > 0 {
			state.Config[name] = d.Config
		}
	}
	r.mu.RUnlock()

	b, err := yaml.Marshal(state)
	if err != nil {
		return apperr.New(apperr.Configuration, "toolregistry.SaveToYAML", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".toolregistry-*.yaml.tmp")
	if err != nil {
		return apperr.New(apperr.Configuration, "toolregistry.SaveToYAML", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return apperr.New(apperr.Configuration, "toolregistry.SaveToYAML", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.New(apperr.Configuration, "toolregistry.SaveToYAML", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperr.New(apperr.Configuration, "toolregistry.SaveToYAML", err)
	}
	return nil
}
