package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeRepo builds a minimal workspace checkout in a temp directory.
func makeRepo(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0770))

	for _, member := range []string{
		"projects/app",
		"projects/billing",
		"libs/lib1",
		"libs/lib2",
	} {
		dir := filepath.Join(root, filepath.FromSlash(member))
		require.NoError(t, os.MkdirAll(dir, 0770))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte("[project]\n"), 0660))
	}

	// a stray directory without a manifest is not a member
	require.NoError(t, os.MkdirAll(filepath.Join(root, "projects", "scratch"), 0770))

	return root
}

func TestDiscoverFindsRootFromNestedDir(t *testing.T) {
	root := makeRepo(t)

	start := filepath.Join(root, "libs", "lib1")
	ws, err := Discover(start)
	require.NoError(t, err)

	assert.Equal(t, root, ws.Root)
	assert.Equal(t, []string{"app", "billing"}, ws.ProjectNames())
	assert.Len(t, ws.Libraries, 2)
}

func TestDiscoverWithoutGitDir(t *testing.T) {
	_, err := Discover(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workspace root found")
}

func TestDiscoverRejectsInvalidMemberNames(t *testing.T) {
	root := makeRepo(t)

	bad := filepath.Join(root, "projects", "Bad.Name")
	require.NoError(t, os.Mkdir(bad, 0770))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "pyproject.toml"), []byte(""), 0660))

	_, err := Discover(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid member name")
}

func TestProjectLookup(t *testing.T) {
	ws, err := Discover(makeRepo(t))
	require.NoError(t, err)

	proj, err := ws.Project("app")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root, "projects", "app"), proj.Dir)

	_, err = ws.Project("lib1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known projects: app, billing")

	lib, err := ws.Library("lib2")
	require.NoError(t, err)
	assert.Equal(t, "lib2", lib.Name)
}

func TestStatePathCreatesParent(t *testing.T) {
	ws, err := Discover(makeRepo(t))
	require.NoError(t, err)

	path, err := ws.StatePath("app", "context.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root, StateDir, "app", "context.tar.gz"), path)
	assert.DirExists(t, filepath.Dir(path))
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "ghcr.io", cfg.Registry)
	assert.Equal(t, "3.11", cfg.Python)
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.NeedsAuth("ghcr.io"))
	assert.False(t, cfg.NeedsAuth("ttl.sh"))
}

func TestLoadConfigOverrides(t *testing.T) {
	root := t.TempDir()
	content := []byte("registry: registry.example.com\nport: 9000\nauthRequired: []\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFile), content, 0660))

	cfg, err := LoadConfig(root)
	require.NoError(t, err)

	assert.Equal(t, "registry.example.com", cfg.Registry)
	assert.Equal(t, 9000, cfg.Port)
	assert.False(t, cfg.NeedsAuth("ghcr.io"))
	// untouched fields keep their defaults
	assert.Equal(t, "0.0.0.0", cfg.Host)
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFile), []byte("port: 70000\n"), 0660))

	_, err := LoadConfig(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
