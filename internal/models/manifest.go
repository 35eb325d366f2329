package models

import "time"

// EntryStatus tracks per-file migration progress. Status only advances
// pending -> copied -> verified, or pending/copied -> failed.
type EntryStatus string

const (
	EntryPending  EntryStatus = "pending"
	EntryCopied   EntryStatus = "copied"
	EntryVerified EntryStatus = "verified"
	EntryFailed   EntryStatus = "failed"
)

// ManifestEntry records the state of one file in a migration.
type ManifestEntry struct {
	SourcePath     string      `json:"source_path"`
	TargetPath     string      `json:"target_path"`
	SourceChecksum string      `json:"source_checksum"`
	TargetChecksum string      `json:"target_checksum,omitempty"`
	Status         EntryStatus `json:"status"`
	CopiedAt       *time.Time  `json:"copied_at,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// CopyManifest is the persisted ledger of a bulk content migration.
type CopyManifest struct {
	ID          string          `json:"id"`
	Project     string          `json:"project"`
	SourceRoot  string          `json:"source_root"`
	TargetRoot  string          `json:"target_root"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Entries     []ManifestEntry `json:"entries"`
}

// IsIncomplete reports whether the migration still needs recovery. A
// manifest is incomplete while its completion time is unset or any
// entry has not reached verified.
func (m *CopyManifest) IsIncomplete() bool {
	if m.CompletedAt == nil {
		return true
	}
	for i := range m.Entries {
		if m.Entries[i].Status != EntryVerified {
			return true
		}
	}
	return false
}

// StatusCounts returns the number of entries per status.
func (m *CopyManifest) StatusCounts() map[EntryStatus]int {
	counts := make(map[EntryStatus]int, 4)
	for i := range m.Entries {
		counts[m.Entries[i].Status]++
	}
	return counts
}

// Progress returns verified and total entry counts.
func (m *CopyManifest) Progress() (verified, total int) {
	for i := range m.Entries {
		if m.Entries[i].Status == EntryVerified {
			verified++
		}
	}
	return verified, len(m.Entries)
}

// FailedEntries returns pointers to entries in failed state.
func (m *CopyManifest) FailedEntries() []*ManifestEntry {
	return m.entriesIn(EntryFailed)
}

// PendingEntries returns pointers to entries in pending state.
func (m *CopyManifest) PendingEntries() []*ManifestEntry {
	return m.entriesIn(EntryPending)
}

func (m *CopyManifest) entriesIn(status EntryStatus) []*ManifestEntry {
	var out []*ManifestEntry
	for i := range m.Entries {
		if m.Entries[i].Status == status {
			out = append(out, &m.Entries[i])
		}
	}
	return out
}
