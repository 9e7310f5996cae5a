package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at a fresh directory and moves the working directory
// somewhere without an opsdeck.yaml, so loader tests see only their own files.
func isolate(t *testing.T) (home, work string) {
	t.Helper()
	home = t.TempDir()
	work = t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(work)
	return home, work
}

func writeUserConfig(t *testing.T, home, content string) {
	t.Helper()
	dir := filepath.Join(home, ".config", "opsdeck")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
}

func TestLoader_FailsWithoutServerURL(t *testing.T) {
	isolate(t)

	_, err := NewLoader(nil).Load()
	assert.Error(t, err, "defaults alone carry no server URL")
}

func TestLoader_UserConfig(t *testing.T) {
	home, _ := isolate(t)
	writeUserConfig(t, home, "server:\n  url: https://user.example.com\n")

	cfg, err := NewLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, "https://user.example.com", cfg.Server.URL)
	assert.Equal(t, "file", cfg.Store.Kind)
}

func TestLoader_ProjectOverridesUser(t *testing.T) {
	home, work := isolate(t)
	writeUserConfig(t, home, "server:\n  url: https://user.example.com\n")
	project := "server:\n  url: https://project.example.com\nstore:\n  kind: memory\n"
	require.NoError(t, os.WriteFile(filepath.Join(work, "opsdeck.yaml"), []byte(project), 0o644))

	cfg, err := NewLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, "https://project.example.com", cfg.Server.URL)
	assert.Equal(t, "memory", cfg.Store.Kind)
}

func TestLoader_ProjectConfigFoundUpward(t *testing.T) {
	home, work := isolate(t)
	writeUserConfig(t, home, "server:\n  url: https://user.example.com\n")
	project := "server:\n  url: https://project.example.com\n"
	require.NoError(t, os.WriteFile(filepath.Join(work, "opsdeck.yaml"), []byte(project), 0o644))

	nested := filepath.Join(work, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	cfg, err := NewLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, "https://project.example.com", cfg.Server.URL)
}

func TestEnsureUserConfig(t *testing.T) {
	home, _ := isolate(t)

	loader := NewLoader(nil)
	path, err := loader.EnsureUserConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "opsdeck", "config.yaml"), path)

	_, err = os.Stat(path)
	require.NoError(t, err)

	// A second call leaves the existing file alone.
	require.NoError(t, os.WriteFile(path, []byte("server:\n  url: https://kept.example.com\n"), 0o644))
	again, err := loader.EnsureUserConfig()
	require.NoError(t, err)
	assert.Equal(t, path, again)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://kept.example.com", cfg.Server.URL)
}

func TestDefaultCredentialPath(t *testing.T) {
	home, _ := isolate(t)

	path, err := DefaultCredentialPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "opsdeck", "credentials.json"), path)
}
