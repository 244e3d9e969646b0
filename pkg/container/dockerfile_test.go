package container

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDockerfile(t *testing.T) {
	content, err := renderDockerfile(dockerfileParams{
		Python:     "3.11",
		Project:    "app",
		ProjectDir: "projects/app",
		Port:       9000,
		Host:       "127.0.0.1",
	})
	require.NoError(t, err)

	rendered := string(content)

	// all build targets have to be present
	for _, target := range []string{"AS deps", "AS builder", "AS test", "AS slim", "AS distroless"} {
		assert.Contains(t, rendered, target)
	}

	// the deps stage must only see the root manifests, never the sources
	depsStage := rendered[strings.Index(rendered, "AS deps"):strings.Index(rendered, "AS builder")]
	assert.Contains(t, depsStage, "COPY pyproject.toml uv.lock README.md ./")
	assert.Contains(t, depsStage, "uv sync --no-install-workspace --package app")
	assert.NotContains(t, depsStage, "COPY . /code")

	assert.Contains(t, rendered, "RUN uv sync --inexact --no-editable --package app")
	assert.Contains(t, rendered, "FROM "+uvImage+" AS uv")
	assert.Contains(t, rendered, "FROM python:3.11-slim AS deps")
	assert.Contains(t, rendered, "FROM "+distrolessImage+" AS distroless")
	assert.Contains(t, rendered, `ENTRYPOINT ["python", "-m", "fastapi", "run", "src/app", "--port", "9000", "--host", "127.0.0.1"]`)
	assert.Contains(t, rendered, "EXPOSE 9000")
	assert.Contains(t, rendered, "ENV PYTHONPATH=/usr/local/lib/python3.11/site-packages")
	assert.Contains(t, rendered, "WORKDIR /code/projects/app")
}
