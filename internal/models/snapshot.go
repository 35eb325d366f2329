package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is a checksummed, timestamped copy of a configuration.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Reason    string    `json:"reason"`
	Checksum  string    `json:"checksum"`
	Config    *Config   `json:"config"`
}

// Verify recomputes the checksum and compares it to the stored value.
func (s *Snapshot) Verify() error {
	sum, err := ConfigChecksum(s.Config)
	if err != nil {
		return fmt.Errorf("recompute checksum: %w", err)
	}

	if sum != s.Checksum {
		return &ChecksumError{ID: s.ID, Expected: s.Checksum, Actual: sum}
	}

	return nil
}

// ConfigChecksum computes a sha256 checksum over the canonical form of
// a configuration. The document is round-tripped through a generic map
// so object keys are serialized in sorted order; key ordering in the
// source never changes the checksum.
func ConfigChecksum(cfg *Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("nil config")
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", fmt.Errorf("canonicalize config: %w", err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("marshal canonical form: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
