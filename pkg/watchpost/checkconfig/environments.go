package checkconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	wperrors "github.com/watchpost/watchpost/infrastructure/errors"
	"github.com/watchpost/watchpost/pkg/watchpost/environment"
)

// environmentManifest is the on-disk shape of an environments YAML file: a
// flat list, each entry naming the environment, its optional default
// hostname, and arbitrary string metadata.
type environmentManifest struct {
	Environments []environmentEntry `yaml:"environments"`
}

type environmentEntry struct {
	Name     string            `yaml:"name"`
	Hostname string            `yaml:"hostname"`
	Metadata map[string]string `yaml:"metadata"`
}

// LoadEnvironmentsYAML reads a static environment manifest from path, as an
// alternative to registering environment.Environment values
// programmatically. Every entry must name a non-empty, unique
// environment; a malformed document or a duplicate/empty name is a
// registration-time error, the same severity spec §8 gives any other
// malformed check configuration.
func LoadEnvironmentsYAML(path string) ([]environment.Environment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, wperrors.InvalidCheckConfiguration(path, fmt.Sprintf("read environment manifest: %v", err))
	}

	var manifest environmentManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, wperrors.InvalidCheckConfiguration(path, fmt.Sprintf("parse environment manifest: %v", err))
	}

	seen := make(map[string]struct{}, len(manifest.Environments))
	envs := make([]environment.Environment, 0, len(manifest.Environments))
	for _, entry := range manifest.Environments {
		if entry.Name == "" {
			return nil, wperrors.InvalidCheckConfiguration(path, "environment manifest entry has no name")
		}
		if _, dup := seen[entry.Name]; dup {
			return nil, wperrors.InvalidCheckConfiguration(path, fmt.Sprintf("environment %q declared more than once", entry.Name))
		}
		seen[entry.Name] = struct{}{}
		envs = append(envs, environment.New(entry.Name, entry.Hostname, entry.Metadata))
	}
	return envs, nil
}
