package models

// Global section names reported in configuration diffs.
const (
	SectionDefaultMemories  = "default_memories_location"
	SectionDefaultPlacement = "default_placement_mode"
	SectionSync             = "sync"
	SectionLogLevel         = "log_level"
	SectionWatcher          = "watcher"
)

// ConfigDiff classifies a configuration change.
type ConfigDiff struct {
	AddedProjects    []string `json:"added_projects,omitempty"`
	RemovedProjects  []string `json:"removed_projects,omitempty"`
	ModifiedProjects []string `json:"modified_projects,omitempty"`
	ChangedGlobals   []string `json:"changed_globals,omitempty"`

	HasChanges        bool `json:"has_changes"`
	RequiresMigration bool `json:"requires_migration"`
}

// FieldChange records one before/after value pair.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// ProjectChange lists which settings changed for one project.
type ProjectChange struct {
	Fields []FieldChange `json:"fields"`
}

// DetailedConfigDiff extends ConfigDiff with per-field values.
type DetailedConfigDiff struct {
	ConfigDiff

	GlobalChanges  []FieldChange            `json:"global_changes,omitempty"`
	ProjectChanges map[string]ProjectChange `json:"project_changes,omitempty"`
}
