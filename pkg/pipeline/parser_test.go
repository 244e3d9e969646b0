package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTestScript(t *testing.T, options map[string]string, doConfigure bool) (TaskList, map[string]ScriptOption) {
	t.Helper()

	root, err := filepath.Abs("testdata")
	require.NoError(t, err)

	tasks, opts, err := ParseScript(testCtx(), filepath.Join(root, "tasks.star"), root,
		options, []string{"app", "billing"}, doConfigure)
	require.NoError(t, err)
	return tasks, opts
}

func TestParseScriptOptionsOnly(t *testing.T) {
	tasks, opts := parseTestScript(t, nil, false)

	assert.Empty(t, tasks)
	require.Contains(t, opts, "venv")
	assert.Equal(t, ".venv", opts["venv"].Default())
	assert.Equal(t, "Virtual environment directory", opts["venv"].Help)
}

func TestParseScriptCollectsTasks(t *testing.T) {
	tasks, _ := parseTestScript(t, nil, true)

	for _, name := range []string{"fmt", "lint", "sync", "greet:app", "greet:billing"} {
		assert.Contains(t, tasks, name)
	}

	lint := tasks["lint"]
	assert.Equal(t, []string{"fmt"}, lint.Deps)
	assert.Equal(t, []string{"//pyproject.toml"}, lint.Inputs)
	assert.Equal(t, []string{"//.monoci/lint.stamp"}, lint.Outputs)

	require.Len(t, lint.Cmds, 2)
	first, ok := lint.Cmds[0].(ShellCmd)
	require.True(t, ok)
	assert.Equal(t, "uv run ruff check projects", first.Content)

	second := lint.Cmds[1].(ShellCmd)
	assert.Equal(t, "echo done >.monoci/lint.stamp", second.Content)
}

func TestParseScriptMergesEnvOverrides(t *testing.T) {
	tasks, _ := parseTestScript(t, nil, true)

	// setenv applies to every task, explicit env entries win
	assert.Equal(t, map[string]string{"UV_LINK_MODE": "copy"}, tasks["fmt"].Env)
	assert.Equal(t, map[string]string{
		"UV_LINK_MODE": "copy",
		"FORCE_COLOR":  "1",
	}, tasks["lint"].Env)
}

func TestParseScriptAppliesOptionValues(t *testing.T) {
	tasks, _ := parseTestScript(t, nil, true)
	assert.Equal(t, "uv sync --active .venv", tasks["sync"].Cmds[0].(ShellCmd).Content)

	tasks, _ = parseTestScript(t, map[string]string{"venv": "custom"}, true)
	assert.Equal(t, "uv sync --active custom", tasks["sync"].Cmds[0].(ShellCmd).Content)
}

func TestParseScriptProjectTasks(t *testing.T) {
	tasks, _ := parseTestScript(t, nil, true)

	greet := tasks["greet:app"]
	require.Len(t, greet.Cmds, 1)
	assert.Equal(t, "echo app", greet.Cmds[0].(ShellCmd).Content)
}
