package container

import (
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
)

// uvImage is the image the uv binary is copied from. Tracking the latest
// release is fine here because uv.lock pins every resolved package.
const uvImage = "ghcr.io/astral-sh/uv:latest"

// distrolessImage only ships Python 3.11, which is why Config.Python
// defaults to that version.
const distrolessImage = "gcr.io/distroless/python3-debian12"

// dockerfileParams feeds the generated multi-stage Dockerfile.
type dockerfileParams struct {
	UvImage    string
	Runtime    string
	Python     string
	Project    string
	ProjectDir string
	Port       int
	Host       string
}

var dockerfileTmpl = template.Must(template.New("Dockerfile").Parse(`# syntax=docker/dockerfile:1
FROM {{.UvImage}} AS uv

FROM python:{{.Python}}-slim AS deps
COPY --from=uv /uv /usr/local/bin/uv
ENV UV_PROJECT_ENVIRONMENT=/usr/local/ \
    UV_PYTHON=/usr/local/bin/python \
    UV_COMPILE_BYTECODE=1 \
    UV_LINK_MODE=copy \
    UV_FROZEN=1
WORKDIR /code
COPY pyproject.toml uv.lock README.md ./
RUN uv sync --no-install-workspace --package {{.Project}}

FROM deps AS builder
COPY . /code
RUN uv sync --inexact --no-editable --package {{.Project}}

FROM builder AS test
RUN uv sync --inexact --package {{.Project}}
WORKDIR /code/{{.ProjectDir}}

FROM builder AS slim
WORKDIR /code/{{.ProjectDir}}
EXPOSE {{.Port}}
ENTRYPOINT ["python", "-m", "fastapi", "run", "src/{{.Project}}", "--port", "{{.Port}}", "--host", "{{.Host}}"]

FROM {{.Runtime}} AS distroless
COPY --from=builder /code /code
COPY --from=builder /usr/local/lib/python{{.Python}}/site-packages /usr/local/lib/python{{.Python}}/site-packages
ENV PYTHONPATH=/usr/local/lib/python{{.Python}}/site-packages
WORKDIR /code/{{.ProjectDir}}
EXPOSE {{.Port}}
ENTRYPOINT ["python", "-m", "fastapi", "run", "src/{{.Project}}", "--port", "{{.Port}}", "--host", "{{.Host}}"]
`))

func renderDockerfile(params dockerfileParams) ([]byte, error) {
	if params.UvImage == "" {
		params.UvImage = uvImage
	}
	if params.Runtime == "" {
		params.Runtime = distrolessImage
	}

	builder := strings.Builder{}
	err := dockerfileTmpl.Execute(&builder, params)
	if err != nil {
		return nil, eris.Wrap(err, "failed to render Dockerfile")
	}

	return []byte(builder.String()), nil
}
