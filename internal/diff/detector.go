// Package diff classifies changes between two configuration documents
// and decides whether a change moves memory content on disk.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TheMichaelB/memsteward/internal/models"
)

// Detect classifies the change from old to new. A nil old is treated
// as a first load: every project is reported as added, every global
// section as changed, and migration is required whenever that initial
// project set is non-empty.
func Detect(old, new *models.Config) *models.ConfigDiff {
	d := &models.ConfigDiff{}

	if new == nil {
		return d
	}

	if old == nil {
		d.AddedProjects = sortedNames(new.Projects)
		d.ChangedGlobals = allGlobalSections()
		d.HasChanges = true
		d.RequiresMigration = len(d.AddedProjects) > 0
		return d
	}

	for name := range new.Projects {
		if _, ok := old.Projects[name]; !ok {
			d.AddedProjects = append(d.AddedProjects, name)
		}
	}
	for name, oldProj := range old.Projects {
		newProj, ok := new.Projects[name]
		if !ok {
			d.RemovedProjects = append(d.RemovedProjects, name)
			continue
		}
		if oldProj != newProj {
			d.ModifiedProjects = append(d.ModifiedProjects, name)
		}
	}

	sort.Strings(d.AddedProjects)
	sort.Strings(d.RemovedProjects)
	sort.Strings(d.ModifiedProjects)

	d.ChangedGlobals = changedGlobals(old, new)

	d.HasChanges = len(d.AddedProjects) > 0 ||
		len(d.RemovedProjects) > 0 ||
		len(d.ModifiedProjects) > 0 ||
		len(d.ChangedGlobals) > 0

	d.RequiresMigration = len(d.AddedProjects) > 0 ||
		len(d.RemovedProjects) > 0 ||
		len(d.ModifiedProjects) > 0 ||
		old.DefaultMemories != new.DefaultMemories

	return d
}

// DetectDetailed extends Detect with per-field before/after values.
func DetectDetailed(old, new *models.Config) *models.DetailedConfigDiff {
	detailed := &models.DetailedConfigDiff{ConfigDiff: *Detect(old, new)}

	if old == nil || new == nil {
		return detailed
	}

	for _, section := range detailed.ChangedGlobals {
		detailed.GlobalChanges = append(detailed.GlobalChanges, globalChange(section, old, new))
	}

	if len(detailed.ModifiedProjects) > 0 {
		detailed.ProjectChanges = make(map[string]models.ProjectChange, len(detailed.ModifiedProjects))
		for _, name := range detailed.ModifiedProjects {
			detailed.ProjectChanges[name] = projectChange(old.Projects[name], new.Projects[name])
		}
	}

	return detailed
}

// AffectedProjects returns, sorted, the projects whose resolved memory
// location differs between the two configurations. Only projects
// present in both can need migration; added projects have no content
// yet and removed projects keep theirs in place.
func AffectedProjects(old, new *models.Config) []string {
	if old == nil || new == nil {
		return nil
	}

	var affected []string
	for name := range new.Projects {
		if _, ok := old.Projects[name]; !ok {
			continue
		}
		if IsProjectAffected(old, new, name) {
			affected = append(affected, name)
		}
	}

	sort.Strings(affected)
	return affected
}

// IsProjectAffected reports whether the project's resolved memory
// location differs between the two configurations.
func IsProjectAffected(old, new *models.Config, name string) bool {
	oldPath, err := old.MemoriesPath(name)
	if err != nil {
		return false
	}
	newPath, err := new.MemoriesPath(name)
	if err != nil {
		return false
	}
	return oldPath != newPath
}

// DefaultModeAffectedProjects returns, sorted, the projects a
// default-location change moves: those present in both documents that
// resolve through the shared default location. Empty when the diff
// shows no default-location change; code- and custom-placed projects
// are never included.
func DefaultModeAffectedProjects(d *models.ConfigDiff, old, new *models.Config) []string {
	if d == nil || old == nil || new == nil {
		return nil
	}

	changed := false
	for _, section := range d.ChangedGlobals {
		if section == models.SectionDefaultMemories {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}

	var names []string
	for name, proj := range new.Projects {
		if _, ok := old.Projects[name]; !ok {
			continue
		}
		if proj.Mode() == models.PlacementDefault {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}

// Summarize renders a one-line human summary of a diff.
func Summarize(d *models.ConfigDiff) string {
	if d == nil || !d.HasChanges {
		return "no changes"
	}

	var parts []string
	if n := len(d.AddedProjects); n > 0 {
		parts = append(parts, fmt.Sprintf("%d project(s) added", n))
	}
	if n := len(d.RemovedProjects); n > 0 {
		parts = append(parts, fmt.Sprintf("%d project(s) removed", n))
	}
	if n := len(d.ModifiedProjects); n > 0 {
		parts = append(parts, fmt.Sprintf("%d project(s) modified", n))
	}
	if len(d.ChangedGlobals) > 0 {
		parts = append(parts, "globals changed: "+strings.Join(d.ChangedGlobals, ", "))
	}
	if d.RequiresMigration {
		parts = append(parts, "migration required")
	}

	return strings.Join(parts, "; ")
}

func allGlobalSections() []string {
	return []string{
		models.SectionDefaultMemories,
		models.SectionDefaultPlacement,
		models.SectionSync,
		models.SectionLogLevel,
		models.SectionWatcher,
	}
}

func changedGlobals(old, new *models.Config) []string {
	var changed []string

	if old.DefaultMemories != new.DefaultMemories {
		changed = append(changed, models.SectionDefaultMemories)
	}
	if models.NormalizePlacementMode(string(old.DefaultPlacement)) !=
		models.NormalizePlacementMode(string(new.DefaultPlacement)) {
		changed = append(changed, models.SectionDefaultPlacement)
	}
	if old.Sync != new.Sync {
		changed = append(changed, models.SectionSync)
	}
	if old.LogLevel != new.LogLevel {
		changed = append(changed, models.SectionLogLevel)
	}
	if old.Watcher != new.Watcher {
		changed = append(changed, models.SectionWatcher)
	}

	return changed
}

func globalChange(section string, old, new *models.Config) models.FieldChange {
	change := models.FieldChange{Field: section}

	switch section {
	case models.SectionDefaultMemories:
		change.Before, change.After = old.DefaultMemories, new.DefaultMemories
	case models.SectionDefaultPlacement:
		change.Before = string(models.NormalizePlacementMode(string(old.DefaultPlacement)))
		change.After = string(models.NormalizePlacementMode(string(new.DefaultPlacement)))
	case models.SectionSync:
		change.Before = formatSync(old.Sync)
		change.After = formatSync(new.Sync)
	case models.SectionLogLevel:
		change.Before, change.After = old.LogLevel, new.LogLevel
	case models.SectionWatcher:
		change.Before = formatWatcher(old.Watcher)
		change.After = formatWatcher(new.Watcher)
	}

	return change
}

func projectChange(old, new models.ProjectSettings) models.ProjectChange {
	var fields []models.FieldChange

	if old.CodePath != new.CodePath {
		fields = append(fields, models.FieldChange{
			Field: "code_path", Before: old.CodePath, After: new.CodePath,
		})
	}
	if old.Mode() != new.Mode() {
		fields = append(fields, models.FieldChange{
			Field: "placement_mode", Before: string(old.Mode()), After: string(new.Mode()),
		})
	}
	if old.CustomPath != new.CustomPath {
		fields = append(fields, models.FieldChange{
			Field: "custom_path", Before: old.CustomPath, After: new.CustomPath,
		})
	}

	return models.ProjectChange{Fields: fields}
}

func formatSync(s models.SyncSettings) string {
	return fmt.Sprintf("enabled=%t delay_seconds=%d", s.Enabled, s.DelaySeconds)
}

func formatWatcher(w models.WatcherSettings) string {
	return fmt.Sprintf("enabled=%t debounce_ms=%d", w.Enabled, w.DebounceMs)
}

func sortedNames(projects map[string]models.ProjectSettings) []string {
	names := make([]string, 0, len(projects))
	for name := range projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
