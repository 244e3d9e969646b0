package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sessional/monoci/pkg/container"
	"github.com/sessional/monoci/pkg/workspace"
)

// resolveDestination merges flags, the CI environment and the workspace
// config into the publish destination. --dev short-circuits everything
// and targets the anonymous dev registry from monoci.yml.
func resolveDestination(cmd *cobra.Command, cfg *workspace.Config) (container.ImageRef, error) {
	dev, err := cmd.Flags().GetBool("dev")
	if err != nil {
		return container.ImageRef{}, err
	}
	if dev {
		return container.ParseRef(cfg.DevImage)
	}

	registry, err := cmd.Flags().GetString("registry")
	if err != nil {
		return container.ImageRef{}, err
	}
	if registry == "" {
		registry = os.Getenv("DOCKER_REGISTRY")
	}
	if registry == "" {
		registry = cfg.Registry
	}

	image, err := cmd.Flags().GetString("image")
	if err != nil {
		return container.ImageRef{}, err
	}
	if image == "" {
		image = os.Getenv("GITHUB_REPOSITORY")
	}
	if image == "" {
		image = cfg.Image
	}

	tag, err := cmd.Flags().GetString("tag")
	if err != nil {
		return container.ImageRef{}, err
	}
	if tag == "" {
		tag = "latest"
	}

	return container.ParseImageRef(registry, image, tag)
}

func resolveCredentials(cmd *cobra.Command) (container.Credentials, error) {
	username, err := cmd.Flags().GetString("username")
	if err != nil {
		return container.Credentials{}, err
	}

	password, err := cmd.Flags().GetString("password")
	if err != nil {
		return container.Credentials{}, err
	}

	return container.ResolveCredentials(username, password), nil
}

func newPublishCommand(flavor container.Flavor) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fastapi-" + string(flavor) + "-publish",
		Short: "Builds the " + string(flavor) + " image and pushes it to a registry",
		Long: `Builds the ` + string(flavor) + ` image, logs in to the registry when it
requires authentication and pushes the image under the given tag. Nothing
is retried; a failing push fails the invocation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, planner, err := projectPlanner(cmd)
			if err != nil {
				return err
			}

			dest, err := resolveDestination(cmd, ws.Config)
			if err != nil {
				return err
			}

			creds, err := resolveCredentials(cmd)
			if err != nil {
				return err
			}

			tasks, entry, err := planner.PublishPlan(flavor, dest, creds)
			if err != nil {
				return err
			}

			return runPlan(cmd, ws, tasks, entry)
		},
	}

	addImageFlags(cmd)
	addPublishFlags(cmd)
	return cmd
}

func addPublishFlags(cmd *cobra.Command) {
	cmd.Flags().String("registry", "", "registry to push to (default DOCKER_REGISTRY or monoci.yml)")
	cmd.Flags().String("image", "", "namespace/repository of the image (default GITHUB_REPOSITORY or monoci.yml)")
	cmd.Flags().String("tag", "", "image tag (default latest)")
	cmd.Flags().StringP("username", "u", "", "registry username (default DOCKER_USERNAME)")
	cmd.Flags().String("password", "", "registry password (default DOCKER_PASSWORD)")
	cmd.Flags().Bool("dev", false, "publish to the anonymous dev registry from monoci.yml instead")
}

func init() {
	rootCmd.AddCommand(newPublishCommand(container.FlavorDistroless))
	rootCmd.AddCommand(newPublishCommand(container.FlavorSlim))
}
