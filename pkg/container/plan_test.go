package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessional/monoci/pkg/pipeline"
	"github.com/sessional/monoci/pkg/workspace"
)

const planTestLock = `version = 1

[manifest]
members = ["app", "lib1"]

[[package]]
name = "app"
version = "0.1.0"
source = { editable = "projects/app" }
dependencies = [
    { name = "fastapi" },
    { name = "lib1" },
]

[[package]]
name = "fastapi"
version = "0.110.0"
source = { registry = "https://pypi.org/simple" }

[[package]]
name = "lib1"
version = "0.1.0"
source = { editable = "libs/lib1" }
`

func makeWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0770))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pyproject.toml"), []byte("[tool.uv.workspace]\n"), 0660))
	require.NoError(t, os.WriteFile(filepath.Join(root, "uv.lock"), []byte(planTestLock), 0660))

	for _, member := range []string{"projects/app", "libs/lib1"} {
		dir := filepath.Join(root, filepath.FromSlash(member), "src")
		require.NoError(t, os.MkdirAll(dir, 0770))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0660))
		require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(member), "pyproject.toml"), []byte("[project]\n"), 0660))
	}

	ws, err := workspace.Discover(root)
	require.NoError(t, err)
	return ws
}

func shellContents(t *testing.T, task *pipeline.Task) []string {
	t.Helper()

	result := make([]string, 0, len(task.Cmds))
	for _, cmd := range task.Cmds {
		if shell, ok := cmd.(pipeline.ShellCmd); ok {
			result = append(result, shell.Content)
		}
	}
	return result
}

func TestNewPlannerValidation(t *testing.T) {
	ws := makeWorkspace(t)

	_, err := NewPlanner(ws, "nope", 0, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project nope not found")

	_, err = NewPlanner(ws, "app", 70000, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	p, err := NewPlanner(ws, "app", 0, "")
	require.NoError(t, err)
	assert.Equal(t, "monoci/app:distroless", p.LocalTag(FlavorDistroless))
}

func TestContextTaskInputs(t *testing.T) {
	ws := makeWorkspace(t)
	p, err := NewPlanner(ws, "app", 0, "")
	require.NoError(t, err)

	task := p.contextTask()
	assert.Equal(t, "context:app", task.Short)
	assert.Equal(t, []string{
		"//pyproject.toml",
		"//uv.lock",
		"//libs/lib1/**",
		"//projects/app/**",
	}, task.Inputs)
	assert.Equal(t, []string{".monoci/app/context.tar.gz"}, task.Outputs)
}

func TestWriteContext(t *testing.T) {
	ws := makeWorkspace(t)
	p, err := NewPlanner(ws, "app", 0, "")
	require.NoError(t, err)

	logger := zerolog.Nop()
	ctx := pipeline.WithLogger(context.Background(), &logger)
	require.NoError(t, p.writeContext(ctx))

	files := readArchive(t, filepath.Join(ws.Root, ".monoci", "app", "context.tar.gz"))
	assert.Contains(t, files["Dockerfile"], "uv sync --no-install-workspace --package app")
	assert.Equal(t, "Stub README\n", files["README.md"])
	assert.Contains(t, files, "pyproject.toml")
	assert.Contains(t, files, "uv.lock")
	assert.Contains(t, files, "projects/app/src/main.py")
	assert.Contains(t, files, "libs/lib1/src/main.py")
}

func TestCheckPlan(t *testing.T) {
	ws := makeWorkspace(t)
	p, err := NewPlanner(ws, "app", 0, "")
	require.NoError(t, err)

	tasks, entry := p.CheckPlan([]string{"uv", "run", "pytest"}, []string{"uv", "run", "ruff", "check"})
	assert.Equal(t, "check:app", entry)
	require.Contains(t, tasks, "context:app")
	require.Contains(t, tasks, "image:app:test")
	require.Contains(t, tasks, "check:app")

	image := tasks["image:app:test"]
	assert.Equal(t, []string{"context:app"}, image.Deps)
	require.Len(t, image.Cmds, 1)
	assert.Contains(t, shellContents(t, image)[0], "docker build --target test --tag monoci/app:test")
	assert.Contains(t, shellContents(t, image)[0], "- <.monoci/app/context.tar.gz")

	check := tasks["check:app"]
	assert.Equal(t, []string{"image:app:test"}, check.Deps)
	cmds := shellContents(t, check)
	require.Len(t, cmds, 2)
	assert.Contains(t, cmds[0], "docker run --rm --name monoci-check-")
	assert.Contains(t, cmds[0], "monoci/app:test uv run pytest")
	assert.Contains(t, cmds[1], "uv run ruff check")
}

func TestRunPlanPublishesPort(t *testing.T) {
	ws := makeWorkspace(t)
	p, err := NewPlanner(ws, "app", 9000, "")
	require.NoError(t, err)

	tasks, entry := p.RunPlan(FlavorSlim)
	cmds := shellContents(t, tasks[entry])
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0], "--publish 9000:9000")
	assert.Contains(t, cmds[0], "monoci/app:slim")
}

func TestPublishPlan(t *testing.T) {
	ws := makeWorkspace(t)
	p, err := NewPlanner(ws, "app", 0, "")
	require.NoError(t, err)

	dest := ImageRef{Registry: "ghcr.io", Namespace: "acme", Repository: "shop", Tag: "abc123"}

	// ghcr.io requires credentials
	_, _, err = p.PublishPlan(FlavorDistroless, dest, Credentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires credentials")

	tasks, entry, err := p.PublishPlan(FlavorDistroless, dest, Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)

	task := tasks[entry]
	assert.Equal(t, []string{"image:app:distroless"}, task.Deps)
	require.Len(t, task.Cmds, 3)
	_, isLogin := task.Cmds[0].(pipeline.GoStep)
	assert.True(t, isLogin)

	cmds := shellContents(t, task)
	require.Len(t, cmds, 2)
	assert.Equal(t, "docker tag monoci/app:distroless ghcr.io/acme/shop:abc123", cmds[0])
	assert.Equal(t, "docker push ghcr.io/acme/shop:abc123", cmds[1])

	// anonymous registries skip the login step
	devDest := ImageRef{Registry: "ttl.sh", Repository: "python-monorepo", Tag: "20m"}
	tasks, entry, err = p.PublishPlan(FlavorDistroless, devDest, Credentials{})
	require.NoError(t, err)
	require.Len(t, tasks[entry].Cmds, 2)
}
