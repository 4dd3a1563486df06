// Package catalog holds the static source definitions the service knows how
// to fetch, loaded from an embedded YAML document or an override file.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/couchcryptid/civic-map-etl/internal/domain"
)

//go:embed sources.yaml
var defaultSources []byte

// Catalog is an ordered, immutable set of source definitions.
type Catalog struct {
	defs   []domain.SourceDefinition
	byName map[string]int
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return parse(embedded(defaultSources))
}

// Load reads a catalog from a YAML file. An empty path returns Default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	c, err := parse(file.Provider(path))
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return c, nil
}

// New builds a catalog from definitions, validating each one and rejecting
// duplicate names.
func New(defs []domain.SourceDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, errors.New("catalog has no sources")
	}
	c := &Catalog{
		defs:   make([]domain.SourceDefinition, len(defs)),
		byName: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		if d.Format == "" {
			d.Format = domain.FormatCSV
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", d.Name)
		}
		c.defs[i] = d
		c.byName[d.Name] = i
	}
	return c, nil
}

func parse(p koanf.Provider) (*Catalog, error) {
	k := koanf.New(".")
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	var defs []domain.SourceDefinition
	if err := k.UnmarshalWithConf("sources", &defs, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(defs)
}

// All returns every definition in catalog order.
func (c *Catalog) All() []domain.SourceDefinition {
	out := make([]domain.SourceDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Group returns the definitions belonging to group, in catalog order.
func (c *Catalog) Group(group string) []domain.SourceDefinition {
	var out []domain.SourceDefinition
	for _, d := range c.defs {
		if d.GroupOrDefault() == group {
			out = append(out, d)
		}
	}
	return out
}

// Groups returns the distinct group names, sorted.
func (c *Catalog) Groups() []string {
	seen := make(map[string]struct{})
	for _, d := range c.defs {
		seen[d.GroupOrDefault()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Names returns the source selector options for group: domain.AllSources
// followed by each source name in catalog order.
func (c *Catalog) Names(group string) []string {
	out := []string{domain.AllSources}
	for _, d := range c.Group(group) {
		out = append(out, d.Name)
	}
	return out
}

// Lookup finds a definition by name.
func (c *Catalog) Lookup(name string) (domain.SourceDefinition, bool) {
	i, ok := c.byName[name]
	if !ok {
		return domain.SourceDefinition{}, false
	}
	return c.defs[i], true
}

// embedded serves a YAML document held in memory to koanf.
type embedded []byte

func (e embedded) ReadBytes() ([]byte, error) { return e, nil }

func (e embedded) Read() (map[string]any, error) {
	return nil, errors.New("embedded provider does not support Read")
}
