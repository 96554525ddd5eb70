package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"duet/pkg/store"
)

// formatCatalog is the YAML shape of the predefined response formats file.
type formatCatalog struct {
	Formats []struct {
		Name         string `yaml:"name"`
		Instructions string `yaml:"instructions"`
	} `yaml:"formats"`
}

// LoadFormats parses the predefined response-format catalog. Entries get
// fresh ids; seeding into the store is by unique name, so reloading an
// unchanged catalog never duplicates or overwrites existing definitions.
func LoadFormats(path string) ([]*store.Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read formats catalog %s: %w", path, err)
	}

	var catalog formatCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse formats catalog %s: %w", path, err)
	}

	now := time.Now().UTC()
	formats := make([]*store.Format, 0, len(catalog.Formats))
	seen := make(map[string]bool)
	for _, entry := range catalog.Formats {
		if entry.Name == "" {
			return nil, fmt.Errorf("formats catalog %s: entry with empty name", path)
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("formats catalog %s: duplicate format %q", path, entry.Name)
		}
		seen[entry.Name] = true

		formats = append(formats, &store.Format{
			ID:           uuid.NewString(),
			Name:         entry.Name,
			Instructions: entry.Instructions,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return formats, nil
}
