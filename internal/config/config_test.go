package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/memsteward/internal/config"
	"github.com/TheMichaelB/memsteward/internal/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 60*time.Second, cfg.Lock.GlobalTimeout)
	assert.Equal(t, 30*time.Second, cfg.Lock.ProjectTimeout)
	assert.Equal(t, 2*time.Second, cfg.Watcher.Debounce)
	assert.True(t, cfg.Watcher.AutoRollback)
}

func TestConfigValidate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.Lock.GlobalTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.Storage.ConfigFile = ""
	assert.Error(t, cfg.Validate())
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "engine.json")

	content := `{
  "storage": {"data_dir": "` + tmpDir + `/data"},
  "lock": {"global_timeout": "90s"},
  "log": {"level": "debug"}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Lock.GlobalTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Dependent paths follow a relocated data dir.
	assert.Equal(t, filepath.Join(tmpDir, "data", "config.json"), cfg.Storage.ConfigFile)
	assert.Equal(t, filepath.Join(tmpDir, "data", "locks"), cfg.Storage.LockDir)
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("MEMSTEWARD_LOG_LEVEL", "warn")

	cfg, err := config.NewLoader("").Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestDocumentRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	_, err := config.LoadDocument(path)
	assert.ErrorIs(t, err, config.ErrDocumentNotFound)

	doc := models.NewConfig(filepath.Join(tmpDir, "memories"))
	doc.Projects["alpha"] = models.ProjectSettings{CodePath: "/src/alpha"}
	require.NoError(t, config.SaveDocument(path, doc))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := config.LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, doc.DefaultMemories, loaded.DefaultMemories)
	assert.Equal(t, doc.Projects, loaded.Projects)

	// No leftover temp files from the atomic write.
	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp.")
	}
}

func TestDocumentCorrupt(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	_, err := config.LoadDocument(path)
	assert.Error(t, err)
}
