package models

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// PlacementMode controls where a project's memory content lives.
type PlacementMode string

const (
	// PlacementDefault stores memories under the shared default location.
	PlacementDefault PlacementMode = "default"

	// PlacementCode stores memories inside the project's code tree.
	PlacementCode PlacementMode = "code"

	// PlacementCustom stores memories at an explicit custom path.
	PlacementCustom PlacementMode = "custom"
)

// MemoriesDirName is the directory used for code-placement memories.
const MemoriesDirName = ".memories"

// NormalizePlacementMode maps unknown or empty modes to PlacementDefault.
func NormalizePlacementMode(s string) PlacementMode {
	switch PlacementMode(strings.ToLower(strings.TrimSpace(s))) {
	case PlacementCode:
		return PlacementCode
	case PlacementCustom:
		return PlacementCustom
	default:
		return PlacementDefault
	}
}

// ProjectSettings configures memory placement for one project.
type ProjectSettings struct {
	CodePath      string        `json:"code_path" validate:"required"`
	PlacementMode PlacementMode `json:"placement_mode,omitempty"`
	CustomPath    string        `json:"custom_path,omitempty"`
}

// Mode returns the normalized placement mode.
func (p ProjectSettings) Mode() PlacementMode {
	return NormalizePlacementMode(string(p.PlacementMode))
}

// SyncSettings configures downstream backend synchronization.
type SyncSettings struct {
	Enabled      bool `json:"enabled"`
	DelaySeconds int  `json:"delay_seconds" validate:"gte=0"`
}

// WatcherSettings configures the configuration file watcher.
type WatcherSettings struct {
	Enabled    bool `json:"enabled"`
	DebounceMs int  `json:"debounce_ms" validate:"gte=0"`
}

// Config is the managed configuration document shared between processes.
type Config struct {
	Version          string                     `json:"version"`
	DefaultMemories  string                     `json:"default_memories_location" validate:"required"`
	DefaultPlacement PlacementMode              `json:"default_placement_mode,omitempty"`
	Projects         map[string]ProjectSettings `json:"projects"`
	Sync             SyncSettings               `json:"sync"`
	LogLevel         string                     `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Watcher          WatcherSettings            `json:"watcher"`
}

// CurrentConfigVersion identifies the document schema.
const CurrentConfigVersion = "1"

// NewConfig creates a configuration with sensible defaults.
func NewConfig(defaultMemories string) *Config {
	return &Config{
		Version:         CurrentConfigVersion,
		DefaultMemories: defaultMemories,
		Projects:        make(map[string]ProjectSettings),
		Sync: SyncSettings{
			Enabled:      false,
			DelaySeconds: 5,
		},
		LogLevel: "info",
		Watcher: WatcherSettings{
			Enabled:    true,
			DebounceMs: 2000,
		},
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural validity and placement invariants.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	for name, proj := range c.Projects {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: project name cannot be empty", ErrValidationFailed)
		}
		if proj.Mode() == PlacementCustom && strings.TrimSpace(proj.CustomPath) == "" {
			return fmt.Errorf("%w: project %s uses custom placement without a custom path",
				ErrValidationFailed, name)
		}
	}

	return nil
}

// Project returns settings for a named project.
func (c *Config) Project(name string) (ProjectSettings, bool) {
	if c.Projects == nil {
		return ProjectSettings{}, false
	}
	p, ok := c.Projects[name]
	return p, ok
}

// ProjectNames returns all configured project names.
func (c *Config) ProjectNames() []string {
	names := make([]string, 0, len(c.Projects))
	for name := range c.Projects {
		names = append(names, name)
	}
	return names
}

// MemoriesPath resolves where a project's memory content lives.
func (c *Config) MemoriesPath(name string) (string, error) {
	proj, ok := c.Project(name)
	if !ok {
		return "", fmt.Errorf("unknown project: %s", name)
	}

	switch proj.Mode() {
	case PlacementCode:
		return filepath.Join(proj.CodePath, MemoriesDirName), nil
	case PlacementCustom:
		if proj.CustomPath == "" {
			return "", fmt.Errorf("%w: project %s has no custom path", ErrValidationFailed, name)
		}
		return proj.CustomPath, nil
	default:
		return filepath.Join(c.DefaultMemories, name), nil
	}
}

// Clone creates a deep copy so later mutation of the original cannot
// leak into snapshots or history.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	clone := *c
	clone.Projects = make(map[string]ProjectSettings, len(c.Projects))
	for name, proj := range c.Projects {
		clone.Projects[name] = proj
	}

	return &clone
}
