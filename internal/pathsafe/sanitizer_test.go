package pathsafe_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/memsteward/internal/models"
	"github.com/TheMichaelB/memsteward/internal/pathsafe"
)

func TestValidateAccepts(t *testing.T) {
	tmpDir := t.TempDir()

	res := pathsafe.Validate(filepath.Join(tmpDir, "memories", "alpha"))
	require.True(t, res.Valid, "unexpected rejection: %v", res.Err)
	assert.Equal(t, filepath.Join(tmpDir, "memories", "alpha"), res.NormalizedPath)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"empty":              "",
		"traversal":          "../../etc/passwd",
		"embedded traversal": "data/../../secrets",
		"encoded traversal":  "%2e%2e/secrets",
		"encoded slash":      "..%2fsecrets",
		"null byte":          "data\x00.json",
		"system dir":         "/etc/passwd",
		"system dir itself":  "/proc",
		"nested system path": "/sys/kernel/debug",
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			res := pathsafe.Validate(raw)
			assert.False(t, res.Valid)
			assert.ErrorIs(t, res.Err, models.ErrPathRejected)
		})
	}
}

func TestValidateExpandsHome(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	res := pathsafe.Validate("~/memories")
	require.True(t, res.Valid, "unexpected rejection: %v", res.Err)
	assert.Equal(t, filepath.Join(homeDir, "memories"), res.NormalizedPath)
}

// Double-URL-encoded traversal is decoded only once and therefore
// accepted. Known gap, kept intentionally.
func TestValidateDoubleEncodedTraversalAccepted(t *testing.T) {
	res := pathsafe.Validate("/tmp/%252e%252e/data")
	assert.True(t, res.Valid, "double-encoded traversal should pass the single-decode check")
}

func TestSanitize(t *testing.T) {
	_, err := pathsafe.Sanitize("../escape")
	assert.ErrorIs(t, err, models.ErrPathRejected)

	var pathErr *models.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "../escape", pathErr.Raw)

	path, err := pathsafe.Sanitize("/tmp/safe")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/safe", path)
}
