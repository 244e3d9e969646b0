package workspace

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the name of the optional workspace configuration file.
const ConfigFile = "monoci.yml"

// Config holds the workspace-level settings read from monoci.yml. Every
// field has a usable default so the file is optional.
type Config struct {
	// Registry is the default registry for publish operations, overridable
	// with --registry or DOCKER_REGISTRY.
	Registry string `yaml:"registry,omitempty"`
	// Image is the default namespace/repository for published images,
	// usually matching GITHUB_REPOSITORY.
	Image string `yaml:"image,omitempty"`
	// Python is the interpreter version baked into the build images. It has
	// to stay on 3.11 as long as the distroless runtime only ships 3.11.
	Python string `yaml:"python,omitempty"`
	// Port and Host are the defaults for the fastapi entrypoint.
	Port int    `yaml:"port,omitempty"`
	Host string `yaml:"host,omitempty"`
	// Ignore lists glob patterns that are never copied into build contexts.
	Ignore []string `yaml:"ignore,omitempty"`
	// AuthRequired lists registries that need a docker login before push.
	AuthRequired []string `yaml:"authRequired,omitempty"`
	// DevImage is the destination used by publish --dev.
	DevImage string `yaml:"devImage,omitempty"`
	// UvVersion is the minimum uv version accepted by fetch-tools.
	UvVersion string `yaml:"uvVersion,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		Registry: "ghcr.io",
		Python:   "3.11",
		Port:     8080,
		Host:     "0.0.0.0",
		Ignore: []string{
			".env",
			".envrc",
			".git",
			"**/.venv",
			"**/__pycache__",
			"**/.pytest_cache",
			"**/.ruff_cache",
			StateDir,
			".tools",
		},
		AuthRequired: []string{"ghcr.io"},
		DevImage:     "ttl.sh/python-monorepo:20m",
		UvVersion:    "0.4.0",
	}
}

// LoadConfig reads monoci.yml from the workspace root. A missing file
// yields the default configuration.
func LoadConfig(root string) (*Config, error) {
	cfg := defaultConfig()

	path := filepath.Join(root, ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, eris.Wrapf(err, "could not open file %s", path)
	}

	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, eris.Errorf("%s: port %d is out of range", path, cfg.Port)
	}

	return cfg, nil
}

// NeedsAuth reports whether the given registry requires a docker login
// before images can be pushed to it.
func (c *Config) NeedsAuth(registry string) bool {
	for _, item := range c.AuthRequired {
		if item == registry {
			return true
		}
	}
	return false
}
