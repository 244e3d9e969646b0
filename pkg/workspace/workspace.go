// Package workspace locates the monorepo root and enumerates the projects
// and libraries it contains. The layout convention is fixed: deployable
// services live in projects/<name>, shared code in libs/<name>, each with
// its own pyproject.toml, and the workspace root carries the aggregated
// pyproject.toml plus the uv.lock resolved by uv.
package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	// ProjectsDir is the directory that holds independently deployable services.
	ProjectsDir = "projects"
	// LibsDir is the directory that holds shared, non-deployable packages.
	LibsDir = "libs"
	// StateDir is where monoci keeps build contexts, iid files and caches.
	StateDir = ".monoci"
)

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Project is a deployable member of the workspace.
type Project struct {
	Name string
	Dir  string
}

// Library is a non-deployable member, consumed by projects via workspace
// dependency declarations.
type Library struct {
	Name string
	Dir  string
}

// Workspace is a discovered monorepo checkout.
type Workspace struct {
	Root      string
	Config    *Config
	Projects  []Project
	Libraries []Library
}

// Discover walks up from start until it finds the repository root (marked
// by a .git directory), then loads the workspace config and enumerates all
// members. An empty start means the current working directory.
func Discover(start string) (*Workspace, error) {
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, eris.Wrap(err, "failed to retrieve the current working directory")
		}
		start = wd
	}

	root, err := findRoot(start)
	if err != nil {
		return nil, err
	}

	cfg, err := LoadConfig(root)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{Root: root, Config: cfg}
	ws.Projects, err = listMembers[Project](root, ProjectsDir, func(name, dir string) Project {
		return Project{Name: name, Dir: dir}
	})
	if err != nil {
		return nil, err
	}

	ws.Libraries, err = listMembers[Library](root, LibsDir, func(name, dir string) Library {
		return Library{Name: name, Dir: dir}
	})
	if err != nil {
		return nil, err
	}

	return ws, nil
}

func findRoot(start string) (string, error) {
	path, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", start)
	}

	for {
		_, err := os.Stat(filepath.Join(path, ".git"))
		if err == nil {
			return path, nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrap(err, "error occurred while searching for the workspace root")
		}

		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}

	return "", eris.Errorf("no workspace root found above %s", start)
}

func listMembers[T any](root, sub string, build func(name, dir string) T) ([]T, error) {
	parent := filepath.Join(root, sub)
	entries, err := os.ReadDir(parent)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "failed to read %s", parent)
	}

	result := make([]T, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !validName.MatchString(name) {
			return nil, eris.Errorf("%s is not a valid member name (lowercase letters, digits, - and _ only)", name)
		}

		dir := filepath.Join(parent, name)
		_, err := os.Stat(filepath.Join(dir, "pyproject.toml"))
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				// not a member, just a stray directory
				continue
			}
			return nil, eris.Wrapf(err, "failed to check %s", dir)
		}

		result = append(result, build(name, dir))
	}

	return result, nil
}

// Project returns the named project or an error listing the known ones.
func (w *Workspace) Project(name string) (Project, error) {
	for _, p := range w.Projects {
		if p.Name == name {
			return p, nil
		}
	}

	return Project{}, eris.Errorf("project %s not found (known projects: %s)", name, strings.Join(w.ProjectNames(), ", "))
}

// Library returns the named library or an error listing the known ones.
func (w *Workspace) Library(name string) (Library, error) {
	for _, l := range w.Libraries {
		if l.Name == name {
			return l, nil
		}
	}

	names := make([]string, len(w.Libraries))
	for idx, l := range w.Libraries {
		names[idx] = l.Name
	}
	sort.Strings(names)

	return Library{}, eris.Errorf("library %s not found (known libraries: %s)", name, strings.Join(names, ", "))
}

// ProjectNames returns the names of all projects in lexical order.
func (w *Workspace) ProjectNames() []string {
	names := make([]string, len(w.Projects))
	for idx, p := range w.Projects {
		names[idx] = p.Name
	}
	sort.Strings(names)
	return names
}

// StatePath resolves a path below the workspace state directory and makes
// sure the parent directory exists.
func (w *Workspace) StatePath(parts ...string) (string, error) {
	path := filepath.Join(append([]string{w.Root, StateDir}, parts...)...)
	err := os.MkdirAll(filepath.Dir(path), 0770)
	if err != nil {
		return "", eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	return path, nil
}

// Lockfile parses the workspace uv.lock.
func (w *Workspace) Lockfile() (*Lockfile, error) {
	return ParseLockfile(filepath.Join(w.Root, "uv.lock"))
}
