package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk persona list.
type Catalog struct {
	Personas []Persona `yaml:"personas"`
}

// LoadCatalog reads a YAML persona catalog from path.
func LoadCatalog(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog bytes.
func ParseCatalog(data []byte) ([]Persona, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode persona catalog: %w", err)
	}
	if err := Validate(c.Personas); err != nil {
		return nil, err
	}
	return c.Personas, nil
}

// Validate ensures every persona has an id and a name and ids are unique.
func Validate(items []Persona) error {
	if len(items) == 0 {
		return fmt.Errorf("persona catalog is empty")
	}
	seen := make(map[string]struct{}, len(items))
	for i, p := range items {
		if p.ID == "" {
			return fmt.Errorf("personas[%d].id is required", i)
		}
		if p.Name == "" {
			return fmt.Errorf("personas[%d].name is required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate persona id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
