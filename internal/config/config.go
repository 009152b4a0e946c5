// Package config loads the brick.yaml project descriptor and the
// tool-level settings, both with BRICKCTL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// GroupMin is the smallest valid group identifier
	GroupMin = 1
	// GroupMax is the largest valid group identifier
	GroupMax = 254
)

// DescriptorName is the file name of the project descriptor
const DescriptorName = "brick.yaml"

// DefaultInterpreter runs the entry script when the descriptor does not name one
const DefaultInterpreter = "python3"

// ConfigError reports a fatal problem with the project descriptor.
// It is always raised before any network activity.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid project descriptor: %s", e.Reason)
	}
	return fmt.Sprintf("invalid project descriptor: %s: %s", e.Field, e.Reason)
}

// Descriptor represents the brick.yaml project descriptor.
// It is immutable after Load.
type Descriptor struct {
	// Group is the numeric group identifier the brick address is derived from
	Group int `mapstructure:"group" yaml:"group"`
	// Entrypoint is the project-relative path of the entry script
	Entrypoint string `mapstructure:"entrypoint" yaml:"entrypoint"`
	// Interpreter runs the entry script on the brick
	Interpreter string `mapstructure:"interpreter" yaml:"interpreter,omitempty"`
	// ResetHook is an optional project-relative script run on the brick
	// after a reset has terminated the project's processes
	ResetHook string `mapstructure:"reset_hook" yaml:"reset_hook,omitempty"`
	// Exclude lists glob patterns never transferred to the brick
	Exclude []string `mapstructure:"exclude" yaml:"exclude,omitempty"`

	projectDir string
}

// Load reads and validates the project descriptor from projectDir
func Load(projectDir string) (*Descriptor, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("brick")
	v.SetConfigType("yaml")
	v.AddConfigPath(abs)
	v.SetEnvPrefix("BRICKCTL")
	v.AutomaticEnv()
	v.SetDefault("interpreter", DefaultInterpreter)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, &ConfigError{Reason: fmt.Sprintf("%s not found in %s (run 'brickctl init' to create one)", DescriptorName, abs)}
		}
		return nil, &ConfigError{Reason: fmt.Sprintf("failed to parse %s: %v", DescriptorName, err)}
	}

	var d Descriptor
	if err := v.Unmarshal(&d); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("failed to decode %s: %v", DescriptorName, err)}
	}
	d.projectDir = abs

	if err := d.validate(); err != nil {
		return nil, err
	}

	return &d, nil
}

// validate enforces the descriptor invariants before any network activity
func (d *Descriptor) validate() error {
	if d.Group < GroupMin || d.Group > GroupMax {
		return &ConfigError{Field: "group", Reason: fmt.Sprintf("must be between %d and %d, got %d", GroupMin, GroupMax, d.Group)}
	}
	if err := validateRelPath("entrypoint", d.Entrypoint, true); err != nil {
		return err
	}
	if err := validateRelPath("reset_hook", d.ResetHook, false); err != nil {
		return err
	}
	if strings.TrimSpace(d.Interpreter) == "" {
		return &ConfigError{Field: "interpreter", Reason: "must not be blank"}
	}
	return nil
}

// validateRelPath checks that a descriptor path stays inside the project tree
func validateRelPath(field, p string, required bool) error {
	if p == "" {
		if required {
			return &ConfigError{Field: field, Reason: "is required"}
		}
		return nil
	}
	if filepath.IsAbs(p) {
		return &ConfigError{Field: field, Reason: "must be relative to the project directory"}
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return &ConfigError{Field: field, Reason: "must not escape the project directory"}
	}
	return nil
}

// ProjectDir returns the absolute path of the local project tree
func (d *Descriptor) ProjectDir() string {
	return d.projectDir
}

// ProjectName returns the directory name the project is deployed under
func (d *Descriptor) ProjectName() string {
	return filepath.Base(d.projectDir)
}
