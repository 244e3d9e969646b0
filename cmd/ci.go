package cmd

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sessional/monoci/pkg/container"
	"github.com/sessional/monoci/pkg/pipeline"
	"github.com/sessional/monoci/pkg/workspace"
)

// The ci subcommands bundle the sequences the CI workflows invoke so the
// workflow files stay one-liners: pull requests verify and build, pushes
// to main additionally publish under the commit sha.

var ciChecks = [][]string{
	{"pytest"},
	{"pyright"},
	{"ruff", "check"},
}

var ciCmd = &cobra.Command{
	Use:   "ci",
	Short: "Runs the fixed CI sequences",
}

// ciPrPlan merges the verify and build pipelines under a single entry task.
func ciPrPlan(ws *workspace.Workspace, planner *container.Planner) (pipeline.TaskList, string) {
	checkTasks, checkEntry := planner.CheckPlan(ciChecks...)
	buildTasks, buildEntry := planner.BuildPlan(container.FlavorDistroless)

	tasks := pipeline.Merge(checkTasks, buildTasks)
	tasks["ci:pr"] = &pipeline.Task{
		Short: "ci:pr",
		Desc:  "Verifies and builds the project",
		Base:  ws.Root,
		Deps:  []string{checkEntry, buildEntry},
	}

	return tasks, "ci:pr"
}

// ciMainPlan merges the verify and publish pipelines, forcing the image tag
// to the commit sha the CI run is for.
func ciMainPlan(cmd *cobra.Command, ws *workspace.Workspace, planner *container.Planner) (pipeline.TaskList, string, error) {
	sha := os.Getenv("GITHUB_SHA")
	if sha == "" {
		return nil, "", eris.New("GITHUB_SHA is not set; the main sequence tags images with the commit sha")
	}
	err := cmd.Flags().Set("tag", sha)
	if err != nil {
		return nil, "", err
	}

	dest, err := resolveDestination(cmd, ws.Config)
	if err != nil {
		return nil, "", err
	}

	creds, err := resolveCredentials(cmd)
	if err != nil {
		return nil, "", err
	}

	checkTasks, checkEntry := planner.CheckPlan(ciChecks...)
	publishTasks, publishEntry, err := planner.PublishPlan(container.FlavorDistroless, dest, creds)
	if err != nil {
		return nil, "", err
	}

	tasks := pipeline.Merge(checkTasks, publishTasks)
	tasks["ci:main"] = &pipeline.Task{
		Short: "ci:main",
		Desc:  "Verifies, builds and publishes the project",
		Base:  ws.Root,
		Deps:  []string{checkEntry, publishEntry},
	}

	return tasks, "ci:main", nil
}

var ciPrCmd = &cobra.Command{
	Use:   "pr",
	Short: "Pull request sequence: verify and build",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, planner, err := projectPlanner(cmd)
		if err != nil {
			return err
		}

		tasks, entry := ciPrPlan(ws, planner)
		return runPlan(cmd, ws, tasks, entry)
	},
}

var ciMainCmd = &cobra.Command{
	Use:   "main",
	Short: "Push-to-main sequence: verify, build and publish with the commit sha tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, planner, err := projectPlanner(cmd)
		if err != nil {
			return err
		}

		tasks, entry, err := ciMainPlan(cmd, ws, planner)
		if err != nil {
			return err
		}

		return runPlan(cmd, ws, tasks, entry)
	},
}

func init() {
	for _, item := range []*cobra.Command{ciPrCmd, ciMainCmd} {
		addImageFlags(item)
		ciCmd.AddCommand(item)
	}
	addPublishFlags(ciMainCmd)

	rootCmd.AddCommand(ciCmd)
}
