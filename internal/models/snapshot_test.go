package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/memsteward/internal/models"
)

func TestConfigChecksumKeyOrderInvariance(t *testing.T) {
	// Same projects inserted in different orders must checksum
	// identically; Go map iteration order is irrelevant after
	// canonicalization, but build both directions to be explicit.
	first := models.NewConfig("/data/memories")
	first.Projects["alpha"] = models.ProjectSettings{CodePath: "/src/alpha"}
	first.Projects["bravo"] = models.ProjectSettings{CodePath: "/src/bravo"}

	second := models.NewConfig("/data/memories")
	second.Projects["bravo"] = models.ProjectSettings{CodePath: "/src/bravo"}
	second.Projects["alpha"] = models.ProjectSettings{CodePath: "/src/alpha"}

	sumA, err := models.ConfigChecksum(first)
	require.NoError(t, err)
	sumB, err := models.ConfigChecksum(second)
	require.NoError(t, err)

	assert.Equal(t, sumA, sumB)
}

func TestConfigChecksumChangesWithValues(t *testing.T) {
	cfg := models.NewConfig("/data/memories")
	before, err := models.ConfigChecksum(cfg)
	require.NoError(t, err)

	cfg.LogLevel = "debug"
	after, err := models.ConfigChecksum(cfg)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestSnapshotVerify(t *testing.T) {
	cfg := models.NewConfig("/data/memories")
	sum, err := models.ConfigChecksum(cfg)
	require.NoError(t, err)

	snap := &models.Snapshot{
		ID:        "snap-1",
		CreatedAt: time.Now(),
		Reason:    "test",
		Checksum:  sum,
		Config:    cfg,
	}
	assert.NoError(t, snap.Verify())

	snap.Config.LogLevel = "debug"
	err = snap.Verify()
	assert.ErrorIs(t, err, models.ErrChecksumMismatch)

	var checksumErr *models.ChecksumError
	assert.ErrorAs(t, err, &checksumErr)
	assert.Equal(t, "snap-1", checksumErr.ID)
}
