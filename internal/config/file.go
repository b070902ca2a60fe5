package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileDefinition is the on-disk shape of a `locket inject --config FILE`
// document: a declarative alternative to repeating --map/--secret flags,
// grounded on systmms/dsops's own versioned YAML definition file.
type FileDefinition struct {
	Version int `yaml:"version"`

	// Policy is the default InjectPolicy spelling ("error", "passthrough",
	// "ignore"); a --policy flag on the command line overrides it.
	Policy string `yaml:"policy,omitempty"`

	// Mappings holds entries in the same "SRC:DST" / "SRC=DST" grammar
	// accepted by --map, one per list entry.
	Mappings []string `yaml:"mappings,omitempty"`

	// Secrets holds entries in the same "label=value" grammar accepted by
	// --secret, one per list entry.
	Secrets []string `yaml:"secrets,omitempty"`
}

// currentFileVersion is the only FileDefinition.Version this build understands.
const currentFileVersion = 1

// LoadFileDefinition reads and parses a declarative inject config file.
// An absent Version defaults to currentFileVersion so a minimal file
// (mappings/secrets only) need not spell it out.
func LoadFileDefinition(path string) (*FileDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}

	var def FileDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("config file %q: invalid yaml: %w", path, err)
	}

	if def.Version == 0 {
		def.Version = currentFileVersion
	}
	if def.Version != currentFileVersion {
		return nil, fmt.Errorf("config file %q: unsupported version %d (want %d)", path, def.Version, currentFileVersion)
	}

	return &def, nil
}
