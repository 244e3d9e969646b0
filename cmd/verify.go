package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sessional/monoci/pkg/container"
	"github.com/sessional/monoci/pkg/workspace"
)

// The check commands all follow the same shape: build the test image for
// the project and run one or more tools inside ephemeral containers.

func runChecks(cmd *cobra.Command, checks ...[]string) error {
	project, err := cmd.Flags().GetString("project")
	if err != nil {
		return err
	}

	ws, err := workspace.Discover("")
	if err != nil {
		return err
	}

	planner, err := container.NewPlanner(ws, project, 0, "")
	if err != nil {
		return err
	}

	tasks, entry := planner.CheckPlan(checks...)
	return runPlan(cmd, ws, tasks, entry)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Runs the project's tests, type checks and lints",
	Long: `Builds the project's test image and runs pytest, pyright and ruff inside
ephemeral containers. The first failing check aborts with its exit code.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChecks(cmd,
			[]string{"pytest"},
			[]string{"pyright"},
			[]string{"ruff", "check"},
		)
	},
}

var pytestCmd = &cobra.Command{
	Use:   "pytest",
	Short: "Runs the project's test suite inside a container",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChecks(cmd, []string{"pytest"})
	},
}

var pyrightCmd = &cobra.Command{
	Use:   "pyright",
	Short: "Runs pyright for the project inside a container",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChecks(cmd, []string{"pyright"})
	},
}

var ruffCmd = &cobra.Command{
	Use:   "ruff",
	Short: "Runs ruff check for the project inside a container",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChecks(cmd, []string{"ruff", "check"})
	},
}

func init() {
	for _, item := range []*cobra.Command{verifyCmd, pytestCmd, pyrightCmd, ruffCmd} {
		item.Flags().StringP("project", "p", "", "name of the project to check")
		_ = item.MarkFlagRequired("project")
		rootCmd.AddCommand(item)
	}
}
