package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessional/monoci/pkg/container"
	"github.com/sessional/monoci/pkg/pipeline"
	"github.com/sessional/monoci/pkg/workspace"
)

const ciTestLock = `version = 1

[manifest]
members = ["app"]

[[package]]
name = "app"
version = "0.1.0"
source = { editable = "projects/app" }
`

func makeCiWorkspace(t *testing.T) (*workspace.Workspace, *container.Planner) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0770))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pyproject.toml"), []byte("[tool.uv.workspace]\n"), 0660))
	require.NoError(t, os.WriteFile(filepath.Join(root, "uv.lock"), []byte(ciTestLock), 0660))

	dir := filepath.Join(root, "projects", "app")
	require.NoError(t, os.MkdirAll(dir, 0770))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte("[project]\n"), 0660))

	ws, err := workspace.Discover(root)
	require.NoError(t, err)

	planner, err := container.NewPlanner(ws, "app", 0, "")
	require.NoError(t, err)
	return ws, planner
}

func TestCiPrPlan(t *testing.T) {
	ws, planner := makeCiWorkspace(t)

	tasks, entry := ciPrPlan(ws, planner)
	assert.Equal(t, "ci:pr", entry)

	// the merged list carries both the test-image and the distroless chains
	for _, name := range []string{"context:app", "image:app:test", "check:app", "image:app:distroless", "build:app:distroless"} {
		assert.Contains(t, tasks, name)
	}

	pr := tasks[entry]
	assert.Equal(t, []string{"check:app", "build:app:distroless"}, pr.Deps)
	assert.Empty(t, pr.Cmds)

	// the verify sequence runs all three tools
	require.Len(t, tasks["check:app"].Cmds, 3)
}

func TestCiMainPlanRequiresSha(t *testing.T) {
	ws, planner := makeCiWorkspace(t)
	t.Setenv("GITHUB_SHA", "")

	cmd := publishTestCmd(t, nil)
	_, _, err := ciMainPlan(cmd, ws, planner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_SHA")
}

func TestCiMainPlanTagsWithSha(t *testing.T) {
	ws, planner := makeCiWorkspace(t)
	t.Setenv("GITHUB_SHA", "deadbeef")
	t.Setenv("DOCKER_REGISTRY", "")
	t.Setenv("GITHUB_REPOSITORY", "acme/shop")
	t.Setenv("DOCKER_USERNAME", "ci")
	t.Setenv("DOCKER_PASSWORD", "secret")

	cmd := publishTestCmd(t, nil)
	tasks, entry, err := ciMainPlan(cmd, ws, planner)
	require.NoError(t, err)
	assert.Equal(t, "ci:main", entry)

	main := tasks[entry]
	assert.Equal(t, []string{"check:app", "publish:app:distroless"}, main.Deps)

	publish := tasks["publish:app:distroless"]
	var shellCmds []string
	for _, item := range publish.Cmds {
		if shell, ok := item.(pipeline.ShellCmd); ok {
			shellCmds = append(shellCmds, shell.Content)
		}
	}
	assert.Equal(t, []string{
		"docker tag monoci/app:distroless ghcr.io/acme/shop:deadbeef",
		"docker push ghcr.io/acme/shop:deadbeef",
	}, shellCmds)
}
