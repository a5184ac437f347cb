// Package catalog holds the immutable reference data of game locations
// and their occupations. It is loaded once at startup; a load failure is
// an initialization error, never a runtime one.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed locations.yaml
var defaultData []byte

// Location is one place participants can be assigned to, with the
// occupations available there. Occupations are cycled when the roster
// is larger than the list.
type Location struct {
	Name        string   `yaml:"name" json:"name"`
	Occupations []string `yaml:"occupations" json:"occupations"`
}

// Catalog is an ordered, read-only collection of locations.
type Catalog struct {
	locations []Location
}

// Load parses catalog data from raw YAML bytes.
func Load(data []byte) (*Catalog, error) {
	var doc struct {
		Locations []Location `yaml:"locations"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(doc.Locations) == 0 {
		return nil, fmt.Errorf("catalog has no locations")
	}
	for _, loc := range doc.Locations {
		if loc.Name == "" {
			return nil, fmt.Errorf("catalog location with empty name")
		}
		if len(loc.Occupations) == 0 {
			return nil, fmt.Errorf("catalog location %q has no occupations", loc.Name)
		}
	}
	return &Catalog{locations: doc.Locations}, nil
}

// LoadFile reads a catalog from a YAML file on disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Load(data)
}

// LoadDefault loads the catalog embedded in the binary.
func LoadDefault() (*Catalog, error) {
	return Load(defaultData)
}

// Len returns the number of locations.
func (c *Catalog) Len() int {
	return len(c.locations)
}

// At returns the location at index i in catalog order.
func (c *Catalog) At(i int) Location {
	return c.locations[i]
}

// Names returns the location names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.locations))
	for i, loc := range c.locations {
		names[i] = loc.Name
	}
	return names
}

// ByName returns the location with the given name, if present.
func (c *Catalog) ByName(name string) (Location, bool) {
	for _, loc := range c.locations {
		if loc.Name == name {
			return loc, true
		}
	}
	return Location{}, false
}
