package cmd

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sessional/monoci/pkg/pipeline"
	"github.com/sessional/monoci/pkg/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "monoci",
	Short: "Build orchestration for the Python monorepo",
	Long: `monoci maps the monorepo layout (projects/, libs/, workspace pyproject.toml
and uv.lock) to container build, test, run and publish actions. Every
operation is a thin pipeline of docker and uv invocations; monoci itself
keeps no state beyond the .monoci scratch directory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	rootCmd.PersistentFlags().BoolP("force", "f", false, "always execute the passed steps even if they don't have to run")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug output")
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

// buildContext prepares the context every operation runs in: a zerolog
// logger writing through the console writer, attached for the pipeline
// runner and the Go steps.
func buildContext(cmd *cobra.Command) context.Context {
	logger := zerolog.New(NewConsoleWriter())

	verbose, err := cmd.Flags().GetBool("verbose")
	if err == nil && !verbose && os.Getenv("MONOCI_DEBUG") == "" {
		logger = logger.Level(zerolog.InfoLevel)
	}

	return pipeline.WithLogger(cmd.Context(), &logger)
}

func runnerOptions(cmd *cobra.Command) (pipeline.Options, error) {
	dryRun, err := cmd.Flags().GetBool("dry")
	if err != nil {
		return pipeline.Options{}, err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return pipeline.Options{}, err
	}

	return pipeline.Options{DryRun: dryRun, Force: force}, nil
}

// runPlan executes the entry task of the given list with the global
// runner flags applied.
func runPlan(cmd *cobra.Command, ws *workspace.Workspace, tasks pipeline.TaskList, entry string) error {
	opts, err := runnerOptions(cmd)
	if err != nil {
		return err
	}

	return pipeline.Run(buildContext(cmd), ws.Root, entry, tasks, opts)
}
