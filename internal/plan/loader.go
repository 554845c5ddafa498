package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads a plan from a file without validating it: callers
// validate against their configured hosts.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses a plan from YAML data.
func LoadFromBytes(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &p, nil
}

// Resolve maps a plan argument to a file path: bare names are looked
// up in the plans directory, anything that looks like a path is used
// as-is.
func Resolve(plansDir, arg string) string {
	if strings.HasSuffix(arg, ".yaml") || strings.HasSuffix(arg, ".yml") ||
		strings.ContainsRune(arg, filepath.Separator) {
		return arg
	}
	return filepath.Join(plansDir, arg+".yaml")
}

// List returns the plan names in the plans directory: base names of
// its .yaml and .yml files, sorted.
func List(plansDir string) ([]string, error) {
	entries, err := os.ReadDir(plansDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch name := e.Name(); {
		case strings.HasSuffix(name, ".yaml"):
			names = append(names, strings.TrimSuffix(name, ".yaml"))
		case strings.HasSuffix(name, ".yml"):
			names = append(names, strings.TrimSuffix(name, ".yml"))
		}
	}
	sort.Strings(names)
	return names, nil
}
