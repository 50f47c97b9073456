package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kestrelworks/conductor/pkg/models"
)

// CatalogEntry is one worker definition in a YAML catalog file.
type CatalogEntry struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Category     string   `yaml:"category"`
	Capabilities []string `yaml:"capabilities"`
	Requires     []string `yaml:"requires"`
	Languages    []string `yaml:"languages"`
	Frameworks   []string `yaml:"frameworks"`
	Modalities   []string `yaml:"modalities"`
	Command      string   `yaml:"command"`
	ValidateCmd  string   `yaml:"validate_command"`
	MaxParallel  int      `yaml:"max_parallel"`
	CostPerTask  float64  `yaml:"cost_per_task"`
}

// Catalog is the on-disk worker catalog format.
type Catalog struct {
	Workers []CatalogEntry `yaml:"workers"`
}

// LoadCatalog parses a worker catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	for i, entry := range catalog.Workers {
		if entry.ID == "" {
			return nil, fmt.Errorf("catalog entry %d: missing id", i)
		}
	}
	return &catalog, nil
}

// Worker converts a catalog entry to a worker descriptor.
func (e CatalogEntry) Worker() *models.Worker {
	return &models.Worker{
		ID:              e.ID,
		Name:            e.Name,
		Category:        e.Category,
		Capabilities:    toCapabilities(e.Capabilities),
		Requires:        toCapabilities(e.Requires),
		Languages:       append([]string(nil), e.Languages...),
		Frameworks:      append([]string(nil), e.Frameworks...),
		Modalities:      append([]string(nil), e.Modalities...),
		Command:         e.Command,
		ValidateCommand: e.ValidateCmd,
		MaxParallel:     e.MaxParallel,
		CostPerTask:     e.CostPerTask,
	}
}

// RegisterCatalog loads a catalog file and registers every worker in it.
// Workers already registered are re-registered with the catalog's
// descriptor, preserving nothing from the previous registration.
func (r *Registry) RegisterCatalog(path string) (int, error) {
	catalog, err := LoadCatalog(path)
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, entry := range catalog.Workers {
		w := entry.Worker()
		if err := r.Register(w); err != nil {
			// Replace an existing registration with the catalog's view.
			if derr := r.Deregister(w.ID); derr != nil {
				return registered, fmt.Errorf("catalog worker %s: %w", w.ID, err)
			}
			if err := r.Register(w); err != nil {
				return registered, fmt.Errorf("catalog worker %s: %w", w.ID, err)
			}
		}
		registered++
	}
	return registered, nil
}

func toCapabilities(tags []string) []models.Capability {
	if len(tags) == 0 {
		return nil
	}
	caps := make([]models.Capability, len(tags))
	for i, tag := range tags {
		caps[i] = models.Capability(tag)
	}
	return caps
}
