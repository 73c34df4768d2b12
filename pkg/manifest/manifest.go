// Package manifest describes the content units available to the lifecycle
// manager: each unit's content hash and direct dependencies, and the
// redirection table mapping logical asset paths to physical locations.
//
// A manifest is immutable once parsed. Reloading produces a new value that
// the manager swaps in on its scheduler goroutine.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only document version Parse accepts.
const CurrentVersion = 1

var (
	// ErrUnknownUnit is returned by Validate when a dependency or redirect
	// names a unit the manifest does not declare.
	ErrUnknownUnit = errors.New("manifest: unknown unit")

	// ErrVersion is returned for unsupported document versions.
	ErrVersion = errors.New("manifest: unsupported version")
)

// Unit is one declared content unit.
type Unit struct {
	Hash string   `yaml:"hash,omitempty" json:"hash,omitempty"`
	Deps []string `yaml:"deps,omitempty" json:"deps,omitempty"`
}

// Location is one physical home of a logical asset path.
type Location struct {
	Unit  string `yaml:"unit" json:"unit"`
	Asset string `yaml:"asset" json:"asset"`
}

// Manifest is the parsed document. JSON is accepted too since it is a YAML
// subset.
type Manifest struct {
	Version   int                   `yaml:"version" json:"version"`
	Units     map[string]Unit       `yaml:"units" json:"units"`
	Redirects map[string][]Location `yaml:"redirects,omitempty" json:"redirects,omitempty"`

	flat map[string][]string
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		Version:   CurrentVersion,
		Units:     map[string]Unit{},
		Redirects: map[string][]Location{},
	}
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Manifest, error) {
	m := New()
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	if m.Version == 0 {
		m.Version = CurrentVersion
	}
	if m.Units == nil {
		m.Units = map[string]Unit{}
	}
	if m.Redirects == nil {
		m.Redirects = map[string][]Location{}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.flatten()
	return m, nil
}

// Load reads and parses the manifest file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal encodes m as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// Validate checks that every reference names a declared unit.
func (m *Manifest) Validate() error {
	if m.Version != CurrentVersion {
		return fmt.Errorf("%w: %d", ErrVersion, m.Version)
	}
	for _, name := range m.UnitNames() {
		for _, dep := range m.Units[name].Deps {
			if _, ok := m.Units[dep]; !ok {
				return fmt.Errorf("%w: %q depends on %q", ErrUnknownUnit, name, dep)
			}
		}
	}
	for path, locs := range m.Redirects {
		for _, l := range locs {
			if _, ok := m.Units[l.Unit]; !ok {
				return fmt.Errorf("%w: redirect %q points at %q", ErrUnknownUnit, path, l.Unit)
			}
		}
	}
	return nil
}

// AddUnit declares a unit. Used by builders and tests; call before sharing
// the manifest.
func (m *Manifest) AddUnit(name, hash string, deps ...string) {
	m.Units[name] = Unit{Hash: hash, Deps: deps}
	m.flat = nil
}

// AddRedirect maps a logical path to a location.
func (m *Manifest) AddRedirect(path string, loc Location) {
	m.Redirects[path] = append(m.Redirects[path], loc)
}

// UnitNames returns the declared unit names, sorted.
func (m *Manifest) UnitNames() []string {
	names := make([]string, 0, len(m.Units))
	for n := range m.Units {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the unit is declared.
func (m *Manifest) Has(name string) bool {
	_, ok := m.Units[name]
	return ok
}

// Hash returns the unit's content hash, or "" when unknown or unset.
func (m *Manifest) Hash(name string) string {
	return m.Units[name].Hash
}

// Dependencies returns the transitive dependency set of name, sorted, never
// including name itself. Cycles are tolerated.
func (m *Manifest) Dependencies(name string) []string {
	if m.flat == nil {
		m.flatten()
	}
	return m.flat[name]
}

// Resolve returns the locations of a logical path. No locations means the
// path is not packaged.
func (m *Manifest) Resolve(path string) []Location {
	return m.Redirects[path]
}

func (m *Manifest) flatten() {
	m.flat = make(map[string][]string, len(m.Units))
	for name := range m.Units {
		seen := map[string]bool{name: true}
		stack := append([]string(nil), m.Units[name].Deps...)
		var out []string
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
			stack = append(stack, m.Units[n].Deps...)
		}
		sort.Strings(out)
		m.flat[name] = out
	}
}
