package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/capsule/pkg/capsule"
	"github.com/mirkobrombin/capsule/pkg/image"
)

func NewBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the capsule base image",
		Long: `Build the capsule base image and publish it under the configured
alias. Sessions are created from this image.`,
		RunE: BuildImage,
	}
	cmd.Flags().StringP("base", "b", "images:ubuntu/24.04", "Base image to build from")
	cmd.Flags().StringSliceP("packages", "P", nil, "Extra packages to install")

	return cmd
}

func buildError(iErr error) (err error) {
	err = fmt.Errorf("an error occurred while building the image: %s", iErr)
	return
}

func BuildImage(cmd *cobra.Command, args []string) (err error) {
	base, _ := cmd.Flags().GetString("base")
	packages, _ := cmd.Flags().GetStringSlice("packages")

	ctx := cmd.Context()
	c, err := capsule.NewCapsule(ctx)
	if err != nil {
		return buildError(err)
	}

	result, err := image.NewBuilder().Build(ctx, image.BuildOptions{
		BaseImage:     base,
		Alias:         c.Options.Image,
		User:          c.Config.Defaults.User,
		ExtraPackages: packages,
	})
	if err != nil {
		return buildError(err)
	}

	fmt.Printf("Image %s built in %s.\n", result.Alias, result.Duration.Round(time.Second))
	return nil
}
