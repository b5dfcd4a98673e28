package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a single Workflow definition from a YAML file.
func LoadFromFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		return nil, fmt.Errorf("read workflow file %s: %w", path, err)
	}

	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow file %s: %w", path, err)
	}

	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("validate workflow file %s: %w", path, err)
	}

	return &w, nil
}

// LoadFromDirectory reads all .yaml/.yml workflow files from a directory.
// A missing directory returns an empty slice, not an error.
func LoadFromDirectory(dir string) ([]Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflow directory %s: %w", dir, err)
	}

	var workflows []Workflow
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		w, err := LoadFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *w)
	}

	return workflows, nil
}
