package container

import (
	"context"
	"fmt"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/docker/go-units"
	"github.com/rotisserie/eris"

	"github.com/sessional/monoci/pkg/pipeline"
	"github.com/sessional/monoci/pkg/workspace"
)

// Planner builds the task pipelines for a single project. All tasks use
// the workspace root as their base directory so every path in the
// generated commands stays repo-relative.
type Planner struct {
	ws      *workspace.Workspace
	project workspace.Project
	sources map[string]string
	port    int
	host    string
}

// NewPlanner resolves the project and its lockfile closure. Port and host
// are baked into the image entrypoint; zero values fall back to the
// workspace config.
func NewPlanner(ws *workspace.Workspace, project string, port int, host string) (*Planner, error) {
	proj, err := ws.Project(project)
	if err != nil {
		return nil, err
	}

	lock, err := ws.Lockfile()
	if err != nil {
		return nil, err
	}

	sources, err := lock.SourcesFor(project)
	if err != nil {
		return nil, err
	}

	if port == 0 {
		port = ws.Config.Port
	}
	if port < 1 || port > 65535 {
		return nil, eris.Errorf("port %d is out of range", port)
	}
	if host == "" {
		host = ws.Config.Host
	}

	return &Planner{
		ws:      ws,
		project: proj,
		sources: sources,
		port:    port,
		host:    host,
	}, nil
}

// LocalTag returns the local image tag for the given flavor.
func (p *Planner) LocalTag(flavor Flavor) string {
	return fmt.Sprintf("monoci/%s:%s", p.project.Name, flavor)
}

func (p *Planner) statePath(name string) string {
	return path.Join(workspace.StateDir, p.project.Name, name)
}

func (p *Planner) contextTask() *pipeline.Task {
	ctxFile := p.statePath("context.tar.gz")

	inputs := []string{"//pyproject.toml", "//uv.lock"}
	for _, dir := range workspace.SourceDirs(p.sources) {
		inputs = append(inputs, "//"+path.Join(dir, "**"))
	}

	return &pipeline.Task{
		Short:   "context:" + p.project.Name,
		Desc:    fmt.Sprintf("Assembles the build context for %s", p.project.Name),
		Base:    p.ws.Root,
		Inputs:  inputs,
		Outputs: []string{ctxFile},
		Cmds: []pipeline.TaskCmd{
			pipeline.GoStep{
				Desc: "write " + ctxFile,
				Run: func(ctx context.Context) error {
					return p.writeContext(ctx)
				},
			},
		},
	}
}

func (p *Planner) writeContext(ctx context.Context) error {
	ctxFile, err := p.ws.StatePath(p.project.Name, "context.tar.gz")
	if err != nil {
		return err
	}

	dockerfile, err := renderDockerfile(dockerfileParams{
		Python:     p.ws.Config.Python,
		Project:    p.project.Name,
		ProjectDir: path.Join(workspace.ProjectsDir, p.project.Name),
		Port:       p.port,
		Host:       p.host,
	})
	if err != nil {
		return err
	}

	writer, err := NewContextWriter(ctxFile, p.ws.Config.Ignore)
	if err != nil {
		return err
	}

	err = p.fillContext(writer, dockerfile)
	if err != nil {
		writer.Close()
		return err
	}

	err = writer.Close()
	if err != nil {
		return err
	}

	pipeline.Logger(ctx).Debug().
		Str("project", p.project.Name).
		Msgf("build context written to %s", ctxFile)
	return nil
}

func (p *Planner) fillContext(writer *ContextWriter, dockerfile []byte) error {
	err := writer.WriteContent("Dockerfile", dockerfile)
	if err != nil {
		return err
	}

	// pyproject.toml may declare a readme, so ship a stub to keep builds
	// independent of the real one
	err = writer.WriteContent("README.md", []byte("Stub README\n"))
	if err != nil {
		return err
	}

	for _, file := range []string{"pyproject.toml", "uv.lock"} {
		err = writer.WriteFile(file, filepath.Join(p.ws.Root, file))
		if err != nil {
			return err
		}
	}

	for _, dir := range workspace.SourceDirs(p.sources) {
		err = writer.WriteDir(dir, filepath.Join(p.ws.Root, filepath.FromSlash(dir)))
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Planner) imageTask(flavor Flavor) *pipeline.Task {
	ctxFile := p.statePath("context.tar.gz")
	iidFile := p.statePath(string(flavor) + ".iid")

	build := fmt.Sprintf("docker build --target %s --tag %s --iidfile %s - <%s",
		flavor, p.LocalTag(flavor), iidFile, ctxFile)

	return &pipeline.Task{
		Short:   fmt.Sprintf("image:%s:%s", p.project.Name, flavor),
		Desc:    fmt.Sprintf("Builds the %s image for %s", flavor, p.project.Name),
		Base:    p.ws.Root,
		Deps:    []string{"context:" + p.project.Name},
		Inputs:  []string{ctxFile},
		Outputs: []string{iidFile},
		Cmds: []pipeline.TaskCmd{
			pipeline.ShellCmd{TaskName: "image", Content: build},
		},
	}
}

func (p *Planner) baseTasks(flavor Flavor) pipeline.TaskList {
	ctxTask := p.contextTask()
	imgTask := p.imageTask(flavor)

	return pipeline.TaskList{
		ctxTask.Short: ctxTask,
		imgTask.Short: imgTask,
	}
}

// CheckPlan builds the pipeline that runs the given commands inside the
// test image, one ephemeral container per command.
func (p *Planner) CheckPlan(checks ...[]string) (pipeline.TaskList, string) {
	tasks := p.baseTasks(flavorTest)

	cmds := make([]pipeline.TaskCmd, 0, len(checks))
	for idx, check := range checks {
		run := fmt.Sprintf("docker run --rm --name monoci-check-%s %s %s",
			nanoid.New(), p.LocalTag(flavorTest), strings.Join(check, " "))
		cmds = append(cmds, pipeline.ShellCmd{TaskName: "check", Content: run, Index: idx})
	}

	task := &pipeline.Task{
		Short: "check:" + p.project.Name,
		Desc:  fmt.Sprintf("Runs checks for %s inside an ephemeral container", p.project.Name),
		Base:  p.ws.Root,
		Deps:  []string{fmt.Sprintf("image:%s:%s", p.project.Name, flavorTest)},
		Cmds:  cmds,
	}
	tasks[task.Short] = task

	return tasks, task.Short
}

// BuildPlan builds the pipeline that produces the given image flavor and
// reports its size.
func (p *Planner) BuildPlan(flavor Flavor) (pipeline.TaskList, string) {
	tasks := p.baseTasks(flavor)

	task := &pipeline.Task{
		Short: fmt.Sprintf("build:%s:%s", p.project.Name, flavor),
		Desc:  fmt.Sprintf("Builds the %s image for %s and prints a summary", flavor, p.project.Name),
		Base:  p.ws.Root,
		Deps:  []string{fmt.Sprintf("image:%s:%s", p.project.Name, flavor)},
		Cmds: []pipeline.TaskCmd{
			pipeline.GoStep{
				Desc: "image summary",
				Run: func(ctx context.Context) error {
					return p.printSummary(ctx, flavor)
				},
			},
		},
	}
	tasks[task.Short] = task

	return tasks, task.Short
}

func (p *Planner) printSummary(ctx context.Context, flavor Flavor) error {
	tag := p.LocalTag(flavor)

	out, err := exec.CommandContext(ctx, "docker", "image", "inspect", "--format", "{{.Size}}", tag).Output()
	if err != nil {
		return eris.Wrapf(err, "failed to inspect image %s", tag)
	}

	size, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return eris.Wrapf(err, "docker returned an unexpected size for %s", tag)
	}

	pipeline.Logger(ctx).Info().
		Str("image", tag).
		Msgf("image built (%s)", units.HumanSize(float64(size)))
	return nil
}

// RunPlan builds the pipeline that runs the image locally with the
// entrypoint port published on the host.
func (p *Planner) RunPlan(flavor Flavor) (pipeline.TaskList, string) {
	tasks := p.baseTasks(flavor)

	run := fmt.Sprintf("docker run --rm --name monoci-run-%s --publish %d:%d %s",
		nanoid.New(), p.port, p.port, p.LocalTag(flavor))

	task := &pipeline.Task{
		Short: fmt.Sprintf("run:%s:%s", p.project.Name, flavor),
		Desc:  fmt.Sprintf("Runs the %s image for %s locally", flavor, p.project.Name),
		Base:  p.ws.Root,
		Deps:  []string{fmt.Sprintf("image:%s:%s", p.project.Name, flavor)},
		Cmds: []pipeline.TaskCmd{
			pipeline.ShellCmd{TaskName: "run", Content: run},
		},
	}
	tasks[task.Short] = task

	return tasks, task.Short
}

// PublishPlan builds the pipeline that tags the image with its remote
// destination and pushes it, logging in first when the registry requires
// it.
func (p *Planner) PublishPlan(flavor Flavor, dest ImageRef, creds Credentials) (pipeline.TaskList, string, error) {
	tasks := p.baseTasks(flavor)

	cmds := make([]pipeline.TaskCmd, 0, 3)
	if p.ws.Config.NeedsAuth(dest.Registry) {
		if !creds.Complete() {
			return nil, "", eris.Errorf("registry %s requires credentials (pass --username/--password or set DOCKER_USERNAME/DOCKER_PASSWORD)", dest.Registry)
		}

		registry := dest.Registry
		cmds = append(cmds, pipeline.GoStep{
			Desc: fmt.Sprintf("docker login %s", registry),
			Run: func(ctx context.Context) error {
				return login(ctx, registry, creds)
			},
		})
	}

	cmds = append(cmds,
		pipeline.ShellCmd{TaskName: "publish", Content: fmt.Sprintf("docker tag %s %s", p.LocalTag(flavor), dest), Index: 1},
		pipeline.ShellCmd{TaskName: "publish", Content: fmt.Sprintf("docker push %s", dest), Index: 2},
	)

	task := &pipeline.Task{
		Short: fmt.Sprintf("publish:%s:%s", p.project.Name, flavor),
		Desc:  fmt.Sprintf("Publishes the %s image for %s to %s", flavor, p.project.Name, dest),
		Base:  p.ws.Root,
		Deps:  []string{fmt.Sprintf("image:%s:%s", p.project.Name, flavor)},
		Cmds:  cmds,
	}
	tasks[task.Short] = task

	return tasks, task.Short, nil
}

// login runs docker login with the password on stdin so it never shows up
// in a process listing.
func login(ctx context.Context, registry string, creds Credentials) error {
	cmd := exec.CommandContext(ctx, "docker", "login", "--username", creds.Username, "--password-stdin", registry)
	cmd.Stdin = strings.NewReader(creds.Password)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return eris.Wrapf(err, "docker login %s failed: %s", registry, strings.TrimSpace(string(out)))
	}

	pipeline.Logger(ctx).Info().Msgf("logged in to %s", registry)
	return nil
}
