package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Options control how the runner treats skip checks and execution.
type Options struct {
	// DryRun only logs the commands that would run.
	DryRun bool
	// Force runs tasks even when their skip conditions hold.
	Force bool
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		doneTasks map[string]bool
		root      string
		opts      Options
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func taskEnviron(task *Task) expand.Environ {
	envVars := os.Environ()

	for name, value := range task.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

var defaultExecHandler = interp.DefaultExecHandler(2)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv", "rm", "mkdir":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			args = append([]string{"monoci"}, args...)
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func resolvePatterns(ctx context.Context, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir2: os.ReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	pctx := &parserCtx{
		filepath: "invalid",
		root:     getRuntimeCtx(ctx).root,
	}

	for _, item := range patterns {
		item = normalizePath(pctx, base, item)
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// If a pattern didn't match anything, it's returned as a result. Skip those results.
			if !strings.Contains(match, "*") {
				result = append(result, match)
			}
		}
	}
	return result, nil
}

// Run executes the named task from the given list including its
// dependencies.
func Run(ctx context.Context, root, name string, tasks TaskList, opts Options) error {
	rctx := runtimeCtx{
		root:      root,
		doneTasks: make(map[string]bool),
		opts:      opts,
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)
	task, found := tasks[name]
	if !found {
		return eris.Errorf("task %s not found", name)
	}

	return runTask(ctx, task, tasks, true)
}

func runTask(ctx context.Context, task *Task, tasks TaskList, canSkip bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	done, seen := rctx.doneTasks[task.Short]
	if seen {
		if done {
			log(ctx).Debug().Msgf("Task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("task %s was called recursively", task.Short)
	}

	rctx.doneTasks[task.Short] = false

	for _, dep := range task.Deps {
		if !rctx.doneTasks[dep] {
			depTask, ok := tasks[dep]
			if !ok {
				return eris.Errorf("task %s not found", dep)
			}

			err := runTask(ctx, depTask, tasks, true)
			if err != nil {
				return eris.Wrapf(err, "task %s failed due to its dependency %s", task.Short, dep)
			}
		}
	}

	skip, err := shouldSkip(ctx, task, canSkip)
	if err != nil {
		return err
	}
	if skip {
		rctx.doneTasks[task.Short] = true
		return nil
	}

	// With the skip and input/output checks done, we can finally start executing
	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(taskEnviron(task)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(
		syntax.Minify(true),
	)
	strBuffer := strings.Builder{}

	for _, item := range task.Cmds {
		exited, err := runCmd(ctx, task, tasks, item, runner, parser, printer, &strBuffer)
		if err != nil {
			return err
		}

		// an exit statement ends the whole task, not just the current command
		if exited {
			break
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	if task.Short != "" {
		rctx.doneTasks[task.Short] = true
	}
	return nil
}

// runCmd executes a single task command. The returned bool reports that a
// shell statement called exit, which ends the surrounding task.
func runCmd(ctx context.Context, task *Task, tasks TaskList, item TaskCmd, runner *interp.Runner,
	parser *syntax.Parser, printer *syntax.Printer, strBuffer *strings.Builder,
) (bool, error) {
	rctx := getRuntimeCtx(ctx)

	stmts, err := item.ShellStmts(parser)
	if err != nil {
		return false, eris.Wrap(err, "failed to parse shell script")
	}

	if stmts != nil {
		for _, stmt := range stmts {
			strBuffer.Reset()
			err := printer.Print(strBuffer, stmt)
			if err != nil {
				return false, eris.Wrap(err, "failed to print command")
			}

			log(ctx).Info().
				Str("task", task.Short).
				Bool("command", true).
				Msg(strBuffer.String())

			if !rctx.opts.DryRun {
				err = runner.Run(ctx, stmt)
				if err != nil {
					return false, err
				}

				if runner.Exited() {
					return true, nil
				}
			}
		}
		return false, nil
	}

	if step := item.Step(); step != nil {
		desc := "<go step>"
		if goStep, ok := item.(GoStep); ok && goStep.Desc != "" {
			desc = goStep.Desc
		}

		log(ctx).Info().
			Str("task", task.Short).
			Bool("command", true).
			Msg(desc)

		if rctx.opts.DryRun {
			return false, nil
		}
		return false, step(ctx)
	}

	subTask := item.Task()
	if subTask == nil {
		return false, eris.Errorf("unexpected task command %+v", item)
	}

	return false, runTask(ctx, subTask, tasks, true)
}

func shouldSkip(ctx context.Context, task *Task, canSkip bool) (bool, error) {
	rctx := getRuntimeCtx(ctx)
	if rctx.opts.Force {
		return false, nil
	}

	if canSkip {
		skipList, err := resolvePatterns(ctx, task.Base, task.SkipIfExists)
		if err != nil {
			return false, eris.Wrap(err, "failed to resolve skipIfExists list")
		}

		found := 0
		for _, item := range skipList {
			_, err := os.Stat(item)
			if err == nil {
				found++
			} else if !eris.Is(err, os.ErrNotExist) {
				return false, eris.Wrapf(err, "failed to check %s", item)
			}
		}

		if found > 0 && found == len(skipList) {
			log(ctx).Info().
				Str("task", task.Short).
				Msg("skipped because all skip files exist")
			return true, nil
		}
	}

	var newestInput time.Time
	inputList, err := resolvePatterns(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatterns(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "failed to check input %s", item)
		}

		if info.ModTime().Sub(newestInput) > 0 {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() {
		return false, nil
	}

	var newestOutput time.Time
	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				// a missing output always forces a rebuild
				return false, nil
			}
			return false, eris.Wrapf(err, "failed to check output %s", item)
		}

		if info.ModTime().Sub(newestOutput) > 0 {
			newestOutput = info.ModTime()
		}
	}

	if len(outputList) > 0 && newestOutput.Sub(newestInput) > 0 {
		log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %.0f seconds newer)", newestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}
