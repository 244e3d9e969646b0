package workspace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestLock(t *testing.T) *Lockfile {
	t.Helper()

	lock, err := ParseLockfile(filepath.Join("testdata", "uv.lock"))
	require.NoError(t, err)
	return lock
}

func TestLockfileMembers(t *testing.T) {
	lock := loadTestLock(t)

	members := lock.Members()
	assert.True(t, members["app"])
	assert.True(t, members["lib1"])
	assert.True(t, members["lib2"])
	assert.False(t, members["fastapi"])
}

func TestSourcesForFollowsWorkspaceDeps(t *testing.T) {
	lock := loadTestLock(t)

	sources, err := lock.SourcesFor("app")
	require.NoError(t, err)

	// app depends on lib1 which depends on lib2; fastapi is third-party and
	// must not show up even though lib1 -> lib2 -> lib1 forms a cycle.
	assert.Equal(t, map[string]string{
		"app":  "projects/app",
		"lib1": "libs/lib1",
		"lib2": "libs/lib2",
	}, sources)
}

func TestSourcesForLeafProject(t *testing.T) {
	lock := loadTestLock(t)

	sources, err := lock.SourcesFor("billing")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"billing": "projects/billing"}, sources)
}

func TestSourcesForUnknownMember(t *testing.T) {
	lock := loadTestLock(t)

	_, err := lock.SourcesFor("fastapi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a workspace member")

	_, err = lock.SourcesFor("nope")
	require.Error(t, err)
}

func TestSourceDirsAreSorted(t *testing.T) {
	dirs := SourceDirs(map[string]string{
		"app":  "projects/app",
		"lib2": "libs/lib2",
		"lib1": "libs/lib1",
	})
	assert.Equal(t, []string{"libs/lib1", "libs/lib2", "projects/app"}, dirs)
}
