// Package profiles manages YAML-defined keyword profiles for classification.
package profiles

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is a named set of focus and distraction keywords.
type Profile struct {
	Name                string   `yaml:"name"`
	Description         string   `yaml:"description"`
	FocusKeywords       []string `yaml:"focus_keywords"`
	DistractionKeywords []string `yaml:"distraction_keywords"`
}

// Config is the top-level YAML structure.
type Config struct {
	Profiles []Profile `yaml:"profiles"`
}

// Registry holds loaded profiles, keyed by name.
type Registry struct {
	byName map[string]*Profile
	order  []string // preserves definition order
}

// Empty returns a registry with no profiles.
func Empty() *Registry {
	return &Registry{byName: make(map[string]*Profile)}
}

// Load reads the YAML file at path and returns a Registry.
// If the file does not exist, Load returns an empty Registry (not an error).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// Parse builds a Registry from YAML bytes. Duplicate names are rejected.
func Parse(data []byte) (*Registry, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	r := &Registry{byName: make(map[string]*Profile, len(cfg.Profiles))}
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return nil, fmt.Errorf("profile %d has no name", i)
		}
		if _, dup := r.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %q", p.Name)
		}
		r.byName[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	return r, nil
}

// Get returns a profile by name. Returns (nil, false) if not found.
func (r *Registry) Get(name string) (*Profile, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.byName[name]
	return p, ok
}

// All returns all profiles in definition order.
func (r *Registry) All() []*Profile {
	if r == nil {
		return nil
	}
	result := make([]*Profile, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name])
	}
	return result
}

// Names returns a sorted list of profile names.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Keywords merges the settings keyword lists with the named profile's lists.
// Settings keywords come first; duplicates are dropped case-insensitively.
// An unknown or empty profile name returns the settings lists deduplicated.
func (r *Registry) Keywords(profile string, focus, distraction []string) ([]string, []string) {
	p, ok := r.Get(profile)
	if !ok {
		return merge(focus, nil), merge(distraction, nil)
	}
	return merge(focus, p.FocusKeywords), merge(distraction, p.DistractionKeywords)
}

func merge(first, second []string) []string {
	out := make([]string, 0, len(first)+len(second))
	seen := make(map[string]struct{}, len(first)+len(second))
	for _, list := range [][]string{first, second} {
		for _, kw := range list {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			key := strings.ToLower(kw)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, kw)
		}
	}
	return out
}
