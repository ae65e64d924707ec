package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/capsule/pkg/capsule"
	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/terminal"
)

func NewTmuxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tmux <container> <subcommand> [args...]",
		Short: "Drive a container's terminal session",
		Long: `Drive the tmux session inside a capsule container.

Subcommands:
  status            report whether a session is alive
  list              list the container's tmux sessions
  send <keys...>    type keys into the session, followed by Enter
  capture           print the visible contents of the active pane
  kill              end the session`,
		Args: cobra.MinimumNArgs(2),
		RunE: TmuxControl,
	}
	return cmd
}

func tmuxError(iErr error) (err error) {
	err = fmt.Errorf("an error occurred while controlling the terminal session: %s", iErr)
	return
}

func TmuxControl(cmd *cobra.Command, args []string) (err error) {
	containerName := args[0]
	sub := args[1]

	ctx := cmd.Context()
	c, err := capsule.NewCapsule(ctx)
	if err != nil {
		return tmuxError(err)
	}

	mux := terminal.NewMux(incus.NewManager(containerName), c.Config.Defaults.User)
	switch sub {
	case "status":
		if mux.HasLiveSession(ctx) {
			fmt.Printf("%s: session alive\n", containerName)
		} else {
			fmt.Printf("%s: no session\n", containerName)
		}
		return nil
	case "list":
		out, err := mux.ListSessions(ctx)
		if err != nil {
			return tmuxError(err)
		}
		fmt.Print(out)
		return nil
	case "send":
		if len(args) < 3 {
			return tmuxError(fmt.Errorf("send requires the keys to type"))
		}
		if err = mux.Send(ctx, strings.Join(args[2:], " ")); err != nil {
			return tmuxError(err)
		}
		return nil
	case "capture":
		out, err := mux.Capture(ctx)
		if err != nil {
			return tmuxError(err)
		}
		fmt.Print(out)
		return nil
	case "kill":
		if err = mux.Kill(ctx); err != nil {
			return tmuxError(err)
		}
		return nil
	default:
		return tmuxError(fmt.Errorf("unknown subcommand %q", sub))
	}
}
