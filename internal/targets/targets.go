// Package targets holds the static table mapping friendly release names to
// catalog search parameters.
package targets

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/uupiso/arch"
)

//go:embed assets/targets.yaml
var embeddedTargets []byte

// ErrUnknownTarget is returned when a name is not present in the catalog.
var ErrUnknownTarget = errors.New("unknown target")

const archPlaceholder = "{arch}"

// Ring is a catalog release channel.
type Ring string

const (
	RingBeta   Ring = "Beta"
	RingDev    Ring = "Dev"
	RingWif    Ring = "Wif"
	RingCanary Ring = "Canary"
)

// Descriptor is a resolved target: a search term with the architecture
// substituted and the edition class the build must provide.
type Descriptor struct {
	Name            string `json:"name"`
	SearchTerm      string `json:"search"`
	RequiredEdition string `json:"edition"`
	// Ring is empty for general availability targets.
	Ring           Ring   `json:"ring,omitempty"`
	VirtualEdition string `json:"virtual_edition,omitempty"`
}

// HasRing reports whether the descriptor constrains the release channel.
func (d Descriptor) HasRing() bool {
	return d.Ring != ""
}

type entry struct {
	Name           string `yaml:"name"`
	Search         string `yaml:"search"`
	Ring           Ring   `yaml:"ring"`
	VirtualEdition string `yaml:"virtual_edition"`
}

type document struct {
	Targets []entry `yaml:"targets"`
}

// Catalog is an immutable, ordered set of target entries.
type Catalog struct {
	entries map[string]entry
	order   []string
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog built from the embedded target table.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(embeddedTargets)
	})
	return defaultCatalog, defaultErr
}

// Parse decodes a YAML target table.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode target table: %w", err)
	}

	catalog := &Catalog{entries: make(map[string]entry, len(doc.Targets))}
	for _, e := range doc.Targets {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, errors.New("target entry without a name")
		}
		if strings.TrimSpace(e.Search) == "" {
			return nil, fmt.Errorf("target %s has no search term", name)
		}
		if _, exists := catalog.entries[name]; exists {
			return nil, fmt.Errorf("duplicate target %s", name)
		}
		switch e.Ring {
		case "", RingBeta, RingDev, RingWif, RingCanary:
		default:
			return nil, fmt.Errorf("target %s has unsupported ring %q", name, e.Ring)
		}
		e.Name = name
		catalog.entries[name] = e
		catalog.order = append(catalog.order, name)
	}
	return catalog, nil
}

// Lookup resolves name into a descriptor for the given architecture and edition class.
func (c *Catalog) Lookup(name string, architecture arch.Architecture, requiredEdition string) (Descriptor, error) {
	e, ok := c.entries[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownTarget, name, strings.Join(c.order, ", "))
	}
	token := architecture.CatalogToken()
	if token == "" {
		return Descriptor{}, fmt.Errorf("architecture %q has no catalog token", architecture)
	}

	return Descriptor{
		Name:            e.Name,
		SearchTerm:      strings.ReplaceAll(e.Search, archPlaceholder, token),
		RequiredEdition: requiredEdition,
		Ring:            e.Ring,
		VirtualEdition:  e.VirtualEdition,
	}, nil
}

// Names returns every target name in table order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// List returns the target names matching any of the glob patterns (see
// fnmatch(3)). Without patterns every name is returned. Table order is kept.
func (c *Catalog) List(patterns ...string) ([]string, error) {
	if len(patterns) == 0 {
		return c.Names(), nil
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid target pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}

	var matched []string
	for _, name := range c.order {
		for _, g := range globs {
			if g.Match(name) {
				matched = append(matched, name)
				break
			}
		}
	}
	return matched, nil
}
