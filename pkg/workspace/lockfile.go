package workspace

import (
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"
)

// Lockfile is the subset of uv.lock that the build orchestration cares
// about: the workspace member list and, per package, its dependency names
// and its editable source location inside the repository.
type Lockfile struct {
	Version  int           `toml:"version"`
	Manifest lockManifest  `toml:"manifest"`
	Packages []LockPackage `toml:"package"`

	byName map[string]*LockPackage
}

type lockManifest struct {
	Members []string `toml:"members"`
}

// LockPackage is a single resolved package entry.
type LockPackage struct {
	Name         string     `toml:"name"`
	Version      string     `toml:"version"`
	Source       LockSource `toml:"source"`
	Dependencies []LockDep  `toml:"dependencies"`
}

// LockSource describes where a package comes from. Workspace members carry
// an editable path relative to the repository root; everything else is a
// third-party package and irrelevant here.
type LockSource struct {
	Editable string `toml:"editable"`
	Registry string `toml:"registry"`
	Virtual  string `toml:"virtual"`
}

// LockDep is a dependency reference inside a package entry.
type LockDep struct {
	Name string `toml:"name"`
}

// ParseLockfile reads and decodes a uv.lock file.
func ParseLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "could not open file %s", path)
	}

	var lock Lockfile
	err = toml.Unmarshal(data, &lock)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}

	lock.byName = make(map[string]*LockPackage, len(lock.Packages))
	for idx := range lock.Packages {
		lock.byName[lock.Packages[idx].Name] = &lock.Packages[idx]
	}

	return &lock, nil
}

// Members returns the workspace member names as a set.
func (l *Lockfile) Members() map[string]bool {
	members := make(map[string]bool, len(l.Manifest.Members))
	for _, name := range l.Manifest.Members {
		members[name] = true
	}
	return members
}

// SourcesFor resolves the transitive closure of the given project's
// workspace dependencies and maps every member in the closure (including
// the project itself) to its source directory relative to the repository
// root. Only these directories have to enter the project's build context.
func (l *Lockfile) SourcesFor(project string) (map[string]string, error) {
	members := l.Members()
	if !members[project] {
		return nil, eris.Errorf("%s is not a workspace member declared in uv.lock", project)
	}

	closure := map[string]bool{project: true}
	queue := []string{project}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		entry, ok := l.byName[name]
		if !ok {
			return nil, eris.Errorf("workspace member %s has no package entry in uv.lock", name)
		}

		for _, dep := range entry.Dependencies {
			if members[dep.Name] && !closure[dep.Name] {
				closure[dep.Name] = true
				queue = append(queue, dep.Name)
			}
		}
	}

	sources := make(map[string]string, len(closure))
	for name := range closure {
		entry := l.byName[name]
		if entry.Source.Editable == "" {
			return nil, eris.Errorf("workspace member %s has no editable source in uv.lock", name)
		}
		sources[name] = entry.Source.Editable
	}

	return sources, nil
}

// SourceDirs returns the source directories of the given closure map in
// lexical order, which keeps generated build contexts reproducible.
func SourceDirs(sources map[string]string) []string {
	dirs := make([]string, 0, len(sources))
	for _, dir := range sources {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}
