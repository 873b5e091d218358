package matrix

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Build command used when the matrix file does not name one.
const defaultCommand = "cargo"

// Describes one build target.
//
// A target is immutable once loaded. The triple doubles as the cache key and
// the artifact-naming key, so it must be unique within a matrix.
type Target struct {
	Triple string `yaml:"triple"` // Platform triple (e.g., "aarch64-unknown-linux-musl").
	Host   string `yaml:"host"`   // Execution host class (e.g., "ubuntu-latest").
	Cache  *bool  `yaml:"cache"`  // Whether dependency state may be reused. Defaults to true.
	Image  string `yaml:"image"`  // Override for the cross toolchain image. Empty uses the default.
}

// Returns whether dependency and toolchain state may be cached for this
// target. Unset means cached.
func (t Target) UseCache() bool {
	return t.Cache == nil || *t.Cache
}

// The declared target matrix for one pipeline invocation.
type Matrix struct {
	Name    string   `yaml:"name"`    // Tool name, used as the artifact name prefix.
	Command string   `yaml:"command"` // Build command. Empty uses "cargo".
	Targets []Target `yaml:"targets"` // Ordered list of build targets.
}

// Loads and validates a matrix file.
func Load(path string) (*Matrix, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return Parse(raw)
}

// Parses and validates matrix YAML.
//
// Unknown fields are rejected so that typos in matrix files surface as
// configuration errors rather than silently ignored settings.
func Parse(raw []byte) (*Matrix, error) {
	var m Matrix

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if m.Command == "" {
		m.Command = defaultCommand
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validates the matrix invariants.
//
// The matrix must name the tool, contain at least one target, and every
// target must carry a unique, non-empty triple and a host label.
func (m *Matrix) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: missing tool name", ErrConfiguration)
	}
	if len(m.Targets) == 0 {
		return fmt.Errorf("%w: no targets declared", ErrConfiguration)
	}

	seen := make(map[string]struct{}, len(m.Targets))
	for i, t := range m.Targets {
		if t.Triple == "" {
			return fmt.Errorf("%w: target %d has no triple", ErrConfiguration, i+1)
		}
		if t.Host == "" {
			return fmt.Errorf("%w: target %q has no host", ErrConfiguration, t.Triple)
		}
		if _, dup := seen[t.Triple]; dup {
			return fmt.Errorf("%w: duplicate triple %q", ErrConfiguration, t.Triple)
		}
		seen[t.Triple] = struct{}{}
	}

	return nil
}
