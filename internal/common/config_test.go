package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jdpbookout.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFromFiles_AppliesDefaultsThenFileOverrides(t *testing.T) {
	path := writeConfigFile(t, `
username = "alice"
password = "secret"
login_url = "https://example.com/login"
inventory_url = "https://example.com/inventory"
concurrent_contexts = 8
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	require.Equal(t, "alice", config.Username)
	require.Equal(t, 8, config.ConcurrentContexts)
	// Untouched fields keep their defaults.
	require.True(t, config.Headless)
	require.Equal(t, "downloads", config.DownloadRoot)
}

func TestLoadFromFiles_LaterFileOverridesEarlier(t *testing.T) {
	base := writeConfigFile(t, `concurrent_contexts = 3`)
	override := writeConfigFile(t, `concurrent_contexts = 9`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)
	require.Equal(t, 9, config.ConcurrentContexts)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `concurrent_contexts = 3`)
	t.Setenv("JDPB_CONCURRENT_CONTEXTS", "12")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)
	require.Equal(t, 12, config.ConcurrentContexts)
}

func TestLoadFromFiles_MissingFileIsAnError(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidate_RejectsMissingRequiredFields(t *testing.T) {
	config := NewDefaultConfig()
	err := config.Validate()
	require.Error(t, err)
}

func TestValidate_AcceptsFullyPopulatedConfig(t *testing.T) {
	config := NewDefaultConfig()
	config.Username = "alice"
	config.Password = "secret"
	config.LoginURL = "https://example.com/login"
	config.InventoryURL = "https://example.com/inventory"

	require.NoError(t, config.Validate())
}

func TestValidate_RejectsNonURLEndpoints(t *testing.T) {
	config := NewDefaultConfig()
	config.Username = "alice"
	config.Password = "secret"
	config.LoginURL = "not-a-url"
	config.InventoryURL = "https://example.com/inventory"

	require.Error(t, config.Validate())
}
