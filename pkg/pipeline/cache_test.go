package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tasks.cache")

	sub := &Task{Short: "sub", Base: ".", Cmds: []TaskCmd{
		ShellCmd{TaskName: "sub", Content: "uv run ruff format"},
	}}
	list := TaskList{
		"sub": sub,
		"lint": {
			Short:   "lint",
			Base:    ".",
			Deps:    []string{"sub"},
			Inputs:  []string{"//pyproject.toml"},
			Outputs: []string{"//.monoci/lint.stamp"},
			Env:     map[string]string{"FORCE_COLOR": "1"},
			Cmds: []TaskCmd{
				ShellCmd{TaskName: "lint", Content: "uv run ruff check", Index: 0},
				TaskRef{Ref: sub},
			},
		},
	}
	options := map[string]string{"venv": "custom"}

	require.NoError(t, WriteCache(file, options, list))

	gotOptions, gotList, err := ReadCache(file)
	require.NoError(t, err)
	assert.Equal(t, options, gotOptions)

	require.Contains(t, gotList, "lint")
	lint := gotList["lint"]
	assert.Equal(t, []string{"sub"}, lint.Deps)
	assert.Equal(t, map[string]string{"FORCE_COLOR": "1"}, lint.Env)
	require.Len(t, lint.Cmds, 2)
	assert.Equal(t, "uv run ruff check", lint.Cmds[0].(ShellCmd).Content)

	ref, ok := lint.Cmds[1].(TaskRef)
	require.True(t, ok)
	assert.Equal(t, "sub", ref.Ref.Short)
}
