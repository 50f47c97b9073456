package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kestrelworks/conductor/pkg/models"
)

// batchEntry is one task in a YAML batch file.
type batchEntry struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Required    []string `yaml:"required"`
	Optional    []string `yaml:"optional"`
	Language    string   `yaml:"language"`
	Framework   string   `yaml:"framework"`
	Complexity  string   `yaml:"complexity"`
	DependsOn   []string `yaml:"depends_on"`
	WorkerCount int      `yaml:"worker_count"`
	OptionalTask bool    `yaml:"optional_task"`
}

// batchFile is the YAML batch file layout.
type batchFile struct {
	Tasks []batchEntry `yaml:"tasks"`
}

// loadBatch reads a batch of tasks from a YAML file.
func loadBatch(path string) ([]*models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var file batchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse batch file %s: %w", path, err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("batch file %s contains no tasks", path)
	}

	seen := make(map[string]bool, len(file.Tasks))
	tasks := make([]*models.Task, 0, len(file.Tasks))
	for i, e := range file.Tasks {
		if e.ID == "" {
			return nil, fmt.Errorf("batch file %s: task %d has no id", path, i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("batch file %s: duplicate task id %q", path, e.ID)
		}
		seen[e.ID] = true

		complexity := models.Complexity(e.Complexity)
		if e.Complexity == "" {
			complexity = models.ComplexityMedium
		}
		if !complexity.Valid() {
			return nil, fmt.Errorf("batch file %s: task %s has unknown complexity %q", path, e.ID, e.Complexity)
		}

		tasks = append(tasks, &models.Task{
			ID:           e.ID,
			Title:        e.Title,
			Description:  e.Description,
			Required:     toCapabilities(e.Required),
			Optional:     toCapabilities(e.Optional),
			Language:     e.Language,
			Framework:    e.Framework,
			Complexity:   complexity,
			DependsOn:    e.DependsOn,
			WorkerCount:  e.WorkerCount,
			OptionalTask: e.OptionalTask,
			Status:       models.TaskStatusPending,
			CreatedAt:    time.Now(),
		})
	}
	return tasks, nil
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
