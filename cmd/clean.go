package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/capsule/pkg/capsule"
)

func NewCleanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [session-id]",
		Short: "Remove session records without a container",
		Long: `Remove the saved state, DNS cache and record of sessions whose
container no longer exists.

With a session id only that session is removed. Without one, sessions
unused for --days are pruned.`,
		Args: cobra.MaximumNArgs(1),
		RunE: CleanSessions,
	}
	cmd.Flags().IntP("days", "d", 30, "Only remove sessions unused for this many days")

	return cmd
}

func cleanError(iErr error) (err error) {
	err = fmt.Errorf("an error occurred while cleaning sessions: %s", iErr)
	return
}

func CleanSessions(cmd *cobra.Command, args []string) (err error) {
	days, _ := cmd.Flags().GetInt("days")

	ctx := cmd.Context()
	c, err := capsule.NewCapsule(ctx)
	if err != nil {
		return cleanError(err)
	}

	if len(args) == 1 {
		if err = c.RemoveSession(ctx, args[0]); err != nil {
			return cleanError(err)
		}
		fmt.Printf("Removed session %s.\n", args[0])
		return nil
	}

	removed, err := c.Prune(ctx, days)
	if err != nil {
		return cleanError(err)
	}
	if len(removed) == 0 {
		fmt.Println("Nothing to clean.")
		return nil
	}
	fmt.Printf("Removed %d stale sessions.\n", len(removed))
	return nil
}
