package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/capsule/pkg/capsule"
	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/logger"
	"github.com/mirkobrombin/capsule/pkg/tools"
)

func NewShutdownCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shutdown [container...]",
		Short: "Gracefully shut down capsule containers",
		Long: `Gracefully shut down capsule containers.

Ephemeral containers are deleted together with their network policy,
persistent ones are only stopped. Session records always survive.`,
		RunE: ShutdownContainers,
	}
	cmd.Flags().BoolP("all", "a", false, "Shut down every capsule container")
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func shutdownError(iErr error) (err error) {
	err = fmt.Errorf("an error occurred while shutting down: %s", iErr)
	return
}

func ShutdownContainers(cmd *cobra.Command, args []string) (err error) {
	all, _ := cmd.Flags().GetBool("all")
	yes, _ := cmd.Flags().GetBool("yes")

	ctx := cmd.Context()
	c, err := capsule.NewCapsule(ctx)
	if err != nil {
		return shutdownError(err)
	}

	names := args
	if all {
		if names, err = managedContainerNames(ctx, c); err != nil {
			return shutdownError(err)
		}
	}
	if len(names) == 0 {
		fmt.Println("Nothing to shut down.")
		return nil
	}

	if !yes && all {
		if !tools.ConfirmOperation(fmt.Sprintf("Shut down %d containers?", len(names))) {
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			logger.Printf("shutting down %s", name)
			return c.RemoveByContainerName(gctx, name, false)
		})
	}
	if err = g.Wait(); err != nil {
		return shutdownError(err)
	}
	return nil
}

// managedContainerNames returns every daemon container carrying the
// capsule prefix.
func managedContainerNames(ctx context.Context, c *capsule.Capsule) ([]string, error) {
	containers, err := incus.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, container := range containers {
		if _, _, ok := capsule.ParseContainerName(c.Options.ContainerPrefix, container.Name); ok {
			names = append(names, container.Name)
		}
	}
	return names, nil
}
