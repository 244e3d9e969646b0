package container

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnored(t *testing.T) {
	patterns := []string{".env", ".git", "**/__pycache__", "**/.venv", ".monoci"}

	assert.True(t, ignored(".env", patterns))
	assert.True(t, ignored(".git/config", patterns))
	assert.True(t, ignored(".monoci/app/context.tar.gz", patterns))
	assert.True(t, ignored("libs/lib1/__pycache__", patterns))
	assert.True(t, ignored("projects/app/src/app/__pycache__/main.cpython-311.pyc", patterns))
	assert.True(t, ignored("projects/app/.venv/bin/python", patterns))

	assert.False(t, ignored("projects/app/src/app/main.py", patterns))
	assert.False(t, ignored("pyproject.toml", patterns))
	assert.False(t, ignored("libs/lib1/src/lib1/env.py", patterns))
}

func readArchive(t *testing.T, filename string) map[string]string {
	t.Helper()

	hdl, err := os.Open(filename)
	require.NoError(t, err)
	defer hdl.Close()

	gz, err := gzip.NewReader(hdl)
	require.NoError(t, err)

	files := make(map[string]string)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(content)
	}

	return files
}

func TestContextWriter(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "src", "app"), 0770))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "__pycache__"), 0770))
	require.NoError(t, os.WriteFile(filepath.Join(src, "src", "app", "main.py"), []byte("print('hi')\n"), 0660))
	require.NoError(t, os.WriteFile(filepath.Join(src, "__pycache__", "junk.pyc"), []byte("junk"), 0660))
	require.NoError(t, os.WriteFile(filepath.Join(src, "pyproject.toml"), []byte("[project]\n"), 0660))

	archive := filepath.Join(t.TempDir(), "context.tar.gz")
	writer, err := NewContextWriter(archive, []string{"**/__pycache__"})
	require.NoError(t, err)

	require.NoError(t, writer.WriteContent("Dockerfile", []byte("FROM scratch\n")))
	require.NoError(t, writer.WriteFile("manifest.toml", filepath.Join(src, "pyproject.toml")))
	require.NoError(t, writer.WriteDir("projects/app", src))
	require.NoError(t, writer.Close())

	files := readArchive(t, archive)
	assert.Equal(t, "FROM scratch\n", files["Dockerfile"])
	assert.Equal(t, "[project]\n", files["manifest.toml"])
	assert.Equal(t, "print('hi')\n", files["projects/app/src/app/main.py"])
	assert.Contains(t, files, "projects/app/pyproject.toml")
	assert.NotContains(t, files, "projects/app/__pycache__/junk.pyc")
}
