// Package pipeline implements a minimal task runner based on Starlark for the task specification
// and mvdan.cc/sh for the shell runtime.
// The built-in container operations and the optional tasks.star script in the workspace root
// both compile down to the same task representation, so dependency ordering, dry runs and
// up-to-date checks behave identically for either source.
package pipeline
