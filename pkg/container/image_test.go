package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageRefString(t *testing.T) {
	ref := ImageRef{Registry: "ghcr.io", Namespace: "acme", Repository: "shop", Tag: "1f2e3d"}
	assert.Equal(t, "ghcr.io/acme/shop:1f2e3d", ref.String())

	assert.Equal(t, "shop", ImageRef{Repository: "shop"}.String())
	assert.Equal(t, "ttl.sh/python-monorepo:20m", ImageRef{Registry: "ttl.sh", Repository: "python-monorepo", Tag: "20m"}.String())
}

func TestParseImageRef(t *testing.T) {
	ref, err := ParseImageRef("ghcr.io", "acme/shop", "latest")
	require.NoError(t, err)
	assert.Equal(t, ImageRef{Registry: "ghcr.io", Namespace: "acme", Repository: "shop", Tag: "latest"}, ref)

	ref, err = ParseImageRef("ghcr.io", "shop", "latest")
	require.NoError(t, err)
	assert.Equal(t, "", ref.Namespace)
	assert.Equal(t, "shop", ref.Repository)

	_, err = ParseImageRef("ghcr.io", "", "latest")
	require.Error(t, err)

	_, err = ParseImageRef("ghcr.io", "acme/", "latest")
	require.Error(t, err)
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("ttl.sh/python-monorepo:20m")
	require.NoError(t, err)
	assert.Equal(t, ImageRef{Registry: "ttl.sh", Repository: "python-monorepo", Tag: "20m"}, ref)

	// a plain name has neither registry nor namespace
	ref, err = ParseRef("debian")
	require.NoError(t, err)
	assert.Equal(t, ImageRef{Repository: "debian"}, ref)

	// the first segment only counts as registry when it looks like a host
	ref, err = ParseRef("acme/shop")
	require.NoError(t, err)
	assert.Equal(t, ImageRef{Namespace: "acme", Repository: "shop"}, ref)

	ref, err = ParseRef("localhost:5000/acme/shop:dev")
	require.NoError(t, err)
	assert.Equal(t, ImageRef{Registry: "localhost:5000", Namespace: "acme", Repository: "shop", Tag: "dev"}, ref)
}

func TestResolveCredentials(t *testing.T) {
	t.Setenv("DOCKER_USERNAME", "envuser")
	t.Setenv("DOCKER_PASSWORD", "envpass")

	creds := ResolveCredentials("", "")
	assert.Equal(t, Credentials{Username: "envuser", Password: "envpass"}, creds)
	assert.True(t, creds.Complete())

	// explicit flags win over the environment
	creds = ResolveCredentials("flaguser", "")
	assert.Equal(t, "flaguser", creds.Username)
	assert.Equal(t, "envpass", creds.Password)

	t.Setenv("DOCKER_PASSWORD", "")
	assert.False(t, ResolveCredentials("flaguser", "").Complete())
}
