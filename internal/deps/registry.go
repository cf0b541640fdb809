package deps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// Entry describes one built-in library bundle.
type Entry struct {
	Alias       string   `yaml:"alias"`
	File        string   `yaml:"file"`
	Globals     []string `yaml:"globals"`
	Description string   `yaml:"description"`
}

// Registry is the trusted table of alias → bundle file.
type Registry struct {
	entries  map[string]Entry
	synonyms map[string]string
}

// Builtin returns the compile-time registry. A manifest can enrich the
// metadata but aliases outside this table plus the manifest never resolve.
func Builtin() *Registry {
	entries := []Entry{
		{Alias: "d3", File: "d3.v7.min.js", Globals: []string{"d3"}, Description: "D3.js data visualization"},
		{Alias: "chart", File: "chart.umd.min.js", Globals: []string{"Chart"}, Description: "Chart.js charting"},
		{Alias: "three", File: "three.min.js", Globals: []string{"THREE"}, Description: "Three.js 3D rendering"},
		{Alias: "lodash", File: "lodash.min.js", Globals: []string{"_"}, Description: "Lodash utilities"},
		{Alias: "anime", File: "anime.min.js", Globals: []string{"anime"}, Description: "Anime.js animation"},
		{Alias: "confetti", File: "confetti.min.js", Globals: []string{"confetti"}, Description: "Canvas confetti"},
	}

	r := &Registry{
		entries: make(map[string]Entry, len(entries)),
		synonyms: map[string]string{
			"d3js":            "d3",
			"chartjs":         "chart",
			"chart.js":        "chart",
			"threejs":         "three",
			"three.js":        "three",
			"animejs":         "anime",
			"canvas-confetti": "confetti",
		},
	}
	for _, e := range entries {
		r.entries[e.Alias] = e
	}
	return r
}

// Lookup resolves an alias (or synonym) to its registry entry.
func (r *Registry) Lookup(alias string) (Entry, bool) {
	key := strings.ToLower(strings.TrimSpace(alias))
	if canonical, ok := r.synonyms[key]; ok {
		key = canonical
	}
	e, ok := r.entries[key]
	return e, ok
}

// Aliases returns all canonical aliases, sorted.
func (r *Registry) Aliases() []string {
	out := make([]string, 0, len(r.entries))
	for a := range r.entries {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Entries returns all registry entries, sorted by alias.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, a := range r.Aliases() {
		out = append(out, r.entries[a])
	}
	return out
}

type manifest struct {
	Bundles []Entry `yaml:"bundles"`
}

// ApplyManifest merges per-bundle metadata from a YAML manifest. Manifest
// entries for unknown aliases extend the table; entries for known aliases
// override file name and metadata.
func (r *Registry) ApplyManifest(data []byte) error {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("deps: parse manifest: %w", err)
	}
	for _, e := range m.Bundles {
		key := strings.ToLower(strings.TrimSpace(e.Alias))
		if key == "" || e.File == "" {
			return fmt.Errorf("deps: manifest entry needs alias and file (got %+v)", e)
		}
		r.entries[key] = Entry{
			Alias:       key,
			File:        e.File,
			Globals:     e.Globals,
			Description: e.Description,
		}
	}
	return nil
}
