package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/capsule/pkg/capsule"
	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/terminal"
)

func NewAttachCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach [container]",
		Short: "Attach to a detached session",
		Long: `Attach to the terminal session of a running container.

Without an argument the latest session of the current workspace is
used; --slot picks a specific slot of the current workspace instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: AttachSession,
	}
	cmd.Flags().IntP("slot", "s", 0, "Attach to this slot of the current workspace")
	cmd.Flags().Bool("bash", false, "Open a plain shell instead of the terminal session")

	return cmd
}

func attachError(iErr error) (err error) {
	err = fmt.Errorf("an error occurred while attaching: %s", iErr)
	return
}

func AttachSession(cmd *cobra.Command, args []string) (err error) {
	slot, _ := cmd.Flags().GetInt("slot")
	bash, _ := cmd.Flags().GetBool("bash")

	ctx := cmd.Context()
	c, err := capsule.NewCapsule(ctx)
	if err != nil {
		return attachError(err)
	}

	var containerName string
	switch {
	case len(args) > 0:
		containerName = args[0]
	case slot > 0:
		if containerName, err = capsule.ContainerName(c.Options.ContainerPrefix, "", slot); err != nil {
			return attachError(err)
		}
	default:
		session, err := c.Store.LoadLatestForWorkspace("")
		if err != nil {
			return attachError(err)
		}
		containerName = session.ContainerName
	}

	mgr := incus.NewManager(containerName)
	running, err := mgr.IsRunning(ctx)
	if err != nil {
		return attachError(err)
	}
	if !running {
		return attachError(fmt.Errorf("container %s is not running", containerName))
	}

	if bash {
		_, err = mgr.Exec(ctx, "bash", incus.ExecOptions{
			User:        c.Config.Defaults.User,
			Cwd:         "/workspace",
			Interactive: true,
		})
		if err != nil {
			return attachError(err)
		}
		return nil
	}

	mux := terminal.NewMux(mgr, c.Config.Defaults.User)
	if !mux.HasLiveSession(ctx) {
		return attachError(fmt.Errorf("no terminal session in %s", containerName))
	}
	if err = mux.Attach(ctx); err != nil {
		return attachError(err)
	}
	return nil
}
