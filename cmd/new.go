package cmd

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sessional/monoci/pkg"
	"github.com/sessional/monoci/pkg/workspace"
)

var memberName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// scaffold delegates member creation to the package manager so the
// generated pyproject.toml always matches the uv version in use. monoci
// only decides where the member lives.
func scaffold(parent, name string, extraArgs ...string) error {
	if !memberName.MatchString(name) {
		return eris.Errorf("%s is not a valid member name (lowercase letters, digits, - and _ only)", name)
	}

	ws, err := workspace.Discover("")
	if err != nil {
		return err
	}

	dir := filepath.Join(ws.Root, parent, name)
	_, err = os.Stat(dir)
	if err == nil {
		return eris.Errorf("%s already exists", dir)
	}
	if !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "failed to check %s", dir)
	}

	pkg.PrintTask("Creating " + filepath.Join(parent, name))
	args := append([]string{"init"}, extraArgs...)
	args = append(args, filepath.Join(parent, name))

	uv := exec.Command("uv", args...)
	uv.Dir = ws.Root
	uv.Stdout = os.Stdout
	uv.Stderr = os.Stderr
	err = uv.Run()
	if err != nil {
		return eris.Wrap(err, "uv init failed")
	}

	pkg.PrintSubtask("Run uv lock to add the new member to the workspace lockfile")
	return nil
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Scaffolds a new workspace member",
}

var newProjectCmd = &cobra.Command{
	Use:   "project name",
	Short: "Creates a new deployable project under projects/",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scaffold(workspace.ProjectsDir, args[0], "--package")
	},
}

var newLibCmd = &cobra.Command{
	Use:   "lib name",
	Short: "Creates a new shared library under libs/",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scaffold(workspace.LibsDir, args[0], "--lib")
	},
}

func init() {
	newCmd.AddCommand(newProjectCmd)
	newCmd.AddCommand(newLibCmd)
	rootCmd.AddCommand(newCmd)
}
