package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
	"mvdan.cc/sh/v3/syntax"
)

// StepFunc is a build step implemented in Go. Built-in operations use it
// for work that has no sensible shell form, like assembling a build
// context tarball.
type StepFunc func(ctx context.Context) error

// ShellCmd is a task command given as a shell script fragment. It is
// parsed with the POSIX shell grammar and executed by the task runner.
type ShellCmd struct {
	TaskName string
	Content  string
	Index    int
}

func (s ShellCmd) Task() *Task { return nil }

func (s ShellCmd) Step() StepFunc { return nil }

func (s ShellCmd) ShellStmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	result, err := parser.Parse(strings.NewReader(s.Content), fmt.Sprintf("%s:%d", s.TaskName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return result.Stmts, nil
}

// TaskRef runs another task as a command of this one.
type TaskRef struct {
	Ref *Task
}

func (t TaskRef) Task() *Task { return t.Ref }

func (t TaskRef) Step() StepFunc { return nil }

func (t TaskRef) ShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) { return nil, nil }

// GoStep wraps a StepFunc as a task command. Desc is what the dry run and
// the command log print in place of a shell line.
type GoStep struct {
	Desc string
	Run  StepFunc
}

func (g GoStep) Task() *Task { return nil }

func (g GoStep) Step() StepFunc { return g.Run }

func (g GoStep) ShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) { return nil, nil }

// TaskCmd is one command of a task: a shell fragment, a reference to
// another task or a Go step.
type TaskCmd interface {
	Task() *Task
	Step() StepFunc
	ShellStmts(*syntax.Parser) ([]*syntax.Stmt, error)
}

// Task is a single named unit of work with its skip conditions.
type Task struct {
	Env          map[string]string
	Short        string
	Desc         string
	Base         string
	Inputs       []string
	Deps         []string
	SkipIfExists []string
	Outputs      []string
	Cmds         []TaskCmd
	Hidden       bool
}

// TaskList maps short names to each relevant task
type TaskList map[string]*Task

// Merge combines several task lists into one. Later lists win on name
// clashes, which is harmless for the built-in plans since tasks with the
// same name describe the same work.
func Merge(lists ...TaskList) TaskList {
	result := TaskList{}
	for _, list := range lists {
		for name, task := range list {
			result[name] = task
		}
	}
	return result
}

// ScriptOption is an option declared by a tasks.star script.
type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// Implement starlark.Value for *Task so scripts can pass tasks around.

func (t *Task) String() string {
	return fmt.Sprintf("<Task %s: %s>", t.Short, t.Desc)
}

// Type always returns "task" to indicate this type
func (t *Task) Type() string {
	return "task"
}

// Freeze doesn't do anything since tasks are immutable anyway
func (t *Task) Freeze() {}

// Truth always returns true since a task can't be nil or None
func (t *Task) Truth() starlark.Bool {
	return starlark.True
}

// Hash always returns an error since task is not a hashable type
func (t *Task) Hash() (uint32, error) {
	return 0, eris.New("task is not a hashable type")
}

// ScriptPath is a path value produced by resolve_path in task scripts.
type ScriptPath string

func (p ScriptPath) String() string {
	return starlark.String(p).String()
}

func (p ScriptPath) Type() string {
	return "path"
}

func (p ScriptPath) Freeze() {}

func (p ScriptPath) Truth() starlark.Bool {
	return p != ""
}

func (p ScriptPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p ScriptPath) CompareSameType(op starsyntax.Token, y_ starlark.Value, depth int) (bool, error) {
	y := y_.(ScriptPath)

	switch op {
	case starsyntax.EQL:
		return p == y, nil
	case starsyntax.NEQ:
		return p != y, nil
	case starsyntax.LT:
		return p < y, nil
	case starsyntax.LE:
		return p <= y, nil
	case starsyntax.GT:
		return p > y, nil
	case starsyntax.GE:
		return p >= y, nil
	}

	return false, eris.Errorf("unknown operator %v", op)
}

func (p ScriptPath) Index(i int) starlark.Value {
	return starlark.String(p[i])
}

func (p ScriptPath) Len() int {
	return len(p)
}

func (p ScriptPath) Slice(start, end, step int) starlark.Value {
	return starlark.String(p).Slice(start, end, step)
}
