package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sessional/monoci/pkg/container"
	"github.com/sessional/monoci/pkg/workspace"
)

func projectPlanner(cmd *cobra.Command) (*workspace.Workspace, *container.Planner, error) {
	project, err := cmd.Flags().GetString("project")
	if err != nil {
		return nil, nil, err
	}

	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return nil, nil, err
	}

	host, err := cmd.Flags().GetString("host")
	if err != nil {
		return nil, nil, err
	}

	ws, err := workspace.Discover("")
	if err != nil {
		return nil, nil, err
	}

	planner, err := container.NewPlanner(ws, project, port, host)
	if err != nil {
		return nil, nil, err
	}

	return ws, planner, nil
}

func newBuildCommand(flavor container.Flavor) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fastapi-" + string(flavor) + "-build",
		Short: "Builds the " + string(flavor) + " container image for a project",
		Long: `Assembles a minimal build context from the project's lockfile closure and
builds the ` + string(flavor) + ` image. The image is tagged locally and not pushed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, planner, err := projectPlanner(cmd)
			if err != nil {
				return err
			}

			tasks, entry := planner.BuildPlan(flavor)
			return runPlan(cmd, ws, tasks, entry)
		},
	}

	addImageFlags(cmd)
	return cmd
}

func newRunCommand(flavor container.Flavor) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fastapi-" + string(flavor) + "-run",
		Short: "Builds and runs the " + string(flavor) + " image locally",
		Long: `Builds the ` + string(flavor) + ` image and starts it with the fastapi port
published on the host. The container is removed when it stops.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, planner, err := projectPlanner(cmd)
			if err != nil {
				return err
			}

			tasks, entry := planner.RunPlan(flavor)
			return runPlan(cmd, ws, tasks, entry)
		},
	}

	addImageFlags(cmd)
	return cmd
}

func addImageFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("project", "p", "", "name of the project to build")
	_ = cmd.MarkFlagRequired("project")
	cmd.Flags().Int("port", 0, "port the fastapi entrypoint listens on (default from monoci.yml)")
	cmd.Flags().String("host", "", "host the fastapi entrypoint binds to (default from monoci.yml)")
}

func init() {
	rootCmd.AddCommand(newBuildCommand(container.FlavorDistroless))
	rootCmd.AddCommand(newBuildCommand(container.FlavorSlim))
	rootCmd.AddCommand(newRunCommand(container.FlavorDistroless))
	rootCmd.AddCommand(newRunCommand(container.FlavorSlim))
}
