package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/capsule/pkg/capsule"
	"github.com/mirkobrombin/capsule/pkg/logger"
	"github.com/mirkobrombin/capsule/pkg/tools"
)

func NewKillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill [container...]",
		Short: "Force-delete capsule containers",
		Long: `Force-delete capsule containers.

Ephemeral containers are deleted immediately, no in-container shutdown
is attempted. With --force persistent containers are deleted too.
Network policies are removed only after their container is gone.`,
		RunE: KillContainers,
	}
	cmd.Flags().BoolP("all", "a", false, "Kill every capsule container")
	cmd.Flags().BoolP("force", "f", false, "Delete persistent containers too")
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func killError(iErr error) (err error) {
	err = fmt.Errorf("an error occurred while killing containers: %s", iErr)
	return
}

func KillContainers(cmd *cobra.Command, args []string) (err error) {
	all, _ := cmd.Flags().GetBool("all")
	force, _ := cmd.Flags().GetBool("force")
	yes, _ := cmd.Flags().GetBool("yes")

	ctx := cmd.Context()
	c, err := capsule.NewCapsule(ctx)
	if err != nil {
		return killError(err)
	}

	names := args
	if all {
		if names, err = managedContainerNames(ctx, c); err != nil {
			return killError(err)
		}
	}
	if len(names) == 0 {
		fmt.Println("Nothing to kill.")
		return nil
	}

	if !yes {
		if !tools.ConfirmOperation(fmt.Sprintf("Delete %d containers?", len(names))) {
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			logger.Printf("killing %s", name)
			return c.RemoveByContainerName(gctx, name, force)
		})
	}
	if err = g.Wait(); err != nil {
		return killError(err)
	}
	return nil
}
