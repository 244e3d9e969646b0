// Package container turns workspace projects into docker build, run and
// publish pipelines. It never talks to a daemon itself; every action is a
// docker CLI invocation assembled into pipeline tasks so dry runs, forced
// rebuilds and up-to-date checks come for free.
package container

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Flavor selects the image variant to build.
type Flavor string

const (
	// FlavorSlim is the python:<ver>-slim based image.
	FlavorSlim Flavor = "slim"
	// FlavorDistroless is the minimal runtime image without a shell.
	FlavorDistroless Flavor = "distroless"
	// flavorTest is the editable-install image used for verify/pytest runs.
	flavorTest Flavor = "test"
)

// ImageRef is a fully qualified image destination.
type ImageRef struct {
	Registry   string
	Namespace  string
	Repository string
	Tag        string
}

// String renders the reference as registry[/namespace]/repository:tag,
// skipping empty parts.
func (r ImageRef) String() string {
	parts := make([]string, 0, 3)
	for _, part := range []string{r.Registry, r.Namespace, r.Repository} {
		if part != "" {
			parts = append(parts, part)
		}
	}

	ref := strings.Join(parts, "/")
	if r.Tag != "" {
		ref += ":" + r.Tag
	}
	return ref
}

// ParseImageRef builds an ImageRef from a registry, a namespace/repository
// string as stored in GITHUB_REPOSITORY, and a tag.
func ParseImageRef(registry, image, tag string) (ImageRef, error) {
	if image == "" {
		return ImageRef{}, eris.New("no image name given (pass --image or set GITHUB_REPOSITORY)")
	}

	ref := ImageRef{Registry: registry, Tag: tag}
	pos := strings.LastIndex(image, "/")
	if pos < 0 {
		ref.Repository = image
	} else {
		ref.Namespace = image[:pos]
		ref.Repository = image[pos+1:]
	}

	if ref.Repository == "" {
		return ImageRef{}, eris.Errorf("image name %s has an empty repository part", image)
	}

	return ref, nil
}

// ParseRef splits a full reference like ttl.sh/python-monorepo:20m into
// its parts. The first path segment counts as the registry when it looks
// like a host name.
func ParseRef(ref string) (ImageRef, error) {
	result := ImageRef{}

	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		result.Tag = ref[colon+1:]
		ref = ref[:colon]
	}

	segments := strings.Split(ref, "/")
	if len(segments) > 1 && strings.ContainsAny(segments[0], ".:") {
		result.Registry = segments[0]
		segments = segments[1:]
	}

	result.Repository = segments[len(segments)-1]
	if len(segments) > 1 {
		result.Namespace = strings.Join(segments[:len(segments)-1], "/")
	}

	if result.Repository == "" {
		return ImageRef{}, eris.Errorf("image reference %s has an empty repository part", ref)
	}

	return result, nil
}

// Credentials are the registry login credentials for publish operations.
type Credentials struct {
	Username string
	Password string
}

// ResolveCredentials merges explicit flag values with the conventional CI
// environment variables.
func ResolveCredentials(username, password string) Credentials {
	if username == "" {
		username = os.Getenv("DOCKER_USERNAME")
	}
	if password == "" {
		password = os.Getenv("DOCKER_PASSWORD")
	}

	return Credentials{Username: username, Password: password}
}

// Complete reports whether both parts are present.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}
