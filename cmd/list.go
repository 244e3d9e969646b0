package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sessional/monoci/pkg"
	"github.com/sessional/monoci/pkg/workspace"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the projects and libraries of the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := workspace.Discover("")
		if err != nil {
			return err
		}

		pkg.PrintTask("Projects")
		for _, name := range ws.ProjectNames() {
			pkg.PrintSubtask(name)
		}

		pkg.PrintTask("Libraries")
		for _, lib := range ws.Libraries {
			pkg.PrintSubtask(lib.Name)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
