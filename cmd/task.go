package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sessional/monoci/pkg/pipeline"
	"github.com/sessional/monoci/pkg/workspace"
)

var taskCmd = &cobra.Command{
	Use:   "task [name...] [option=value...]",
	Short: "Runs custom tasks declared in the workspace tasks.star",
	Long: `Parses tasks.star in the workspace root and executes the given tasks.
Arguments of the form name=value set script options. Without task names,
the available tasks are listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs := make([]string, 0)
		options := make(map[string]string)
		for _, part := range args {
			pos := strings.Index(part, "=")
			if pos > -1 {
				options[part[:pos]] = part[pos+1:]
			} else {
				taskArgs = append(taskArgs, part)
			}
		}

		ws, err := workspace.Discover("")
		if err != nil {
			return err
		}

		scriptPath := filepath.Join(ws.Root, "tasks.star")
		_, err = os.Stat(scriptPath)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return eris.Errorf("no tasks.star file found in %s", ws.Root)
			}
			return eris.Wrapf(err, "failed to check %s", scriptPath)
		}

		ctx := buildContext(cmd)
		taskList, err := loadTasks(ctx, ws, scriptPath, options)
		if err != nil {
			return err
		}

		opts, err := runnerOptions(cmd)
		if err != nil {
			return err
		}

		for _, name := range taskArgs {
			err = pipeline.Run(ctx, ws.Root, name, taskList, opts)
			if err != nil {
				return eris.Wrapf(err, "failed task %s", name)
			}
		}

		if len(taskArgs) == 0 {
			listTasks(taskList)
		}

		return nil
	},
}

// loadTasks parses tasks.star, using the gob cache when the script hasn't
// changed since the last run with the same options.
func loadTasks(ctx context.Context, ws *workspace.Workspace, scriptPath string, options map[string]string) (pipeline.TaskList, error) {
	cachePath, err := ws.StatePath("tasks.cache")
	if err != nil {
		return nil, err
	}

	scriptInfo, err := os.Stat(scriptPath)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to check %s", scriptPath)
	}

	cacheInfo, err := os.Stat(cachePath)
	if err == nil && cacheInfo.ModTime().After(scriptInfo.ModTime()) {
		cachedOptions, taskList, err := pipeline.ReadCache(cachePath)
		if err == nil && reflect.DeepEqual(cachedOptions, options) {
			pipeline.Logger(ctx).Debug().Msgf("using cached tasks from %s", cachePath)
			return taskList, nil
		}
	}

	taskList, _, err := pipeline.ParseScript(ctx, scriptPath, ws.Root, options, ws.ProjectNames(), true)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse tasks")
	}

	err = pipeline.WriteCache(cachePath, options, taskList)
	if err != nil {
		pipeline.Logger(ctx).Warn().Err(err).Msgf("failed to write task cache %s", cachePath)
	}

	return taskList, nil
}

func listTasks(taskList pipeline.TaskList) {
	fmt.Println("Available tasks:")
	maxNameLen := 0
	sortedNames := make([]string, 0, len(taskList))
	for _, task := range taskList {
		if len(task.Short) > maxNameLen {
			maxNameLen = len(task.Short)
		}

		sortedNames = append(sortedNames, task.Short)
	}

	sort.Strings(sortedNames)

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range sortedNames {
		fmt.Printf(lineFmt, name+":", taskList[name].Desc)
	}
}

func init() {
	rootCmd.AddCommand(taskCmd)
}
