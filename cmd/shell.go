/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/capsule/pkg/capsule"
	"github.com/mirkobrombin/capsule/pkg/logger"
	"github.com/mirkobrombin/capsule/pkg/terminal"
)

func NewShellCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session in an isolated container",
		Long: `Start an interactive session in an isolated container.

The current directory (or --workspace) is mounted at /workspace and the
configured network policy is applied before the container first starts.
Detaching from the terminal keeps the session alive, exiting the shell
ends it according to the persistence flag.`,
		RunE: RunShell,
	}
	cmd.Flags().StringP("workspace", "w", "", "Workspace directory to mount (default: current directory)")
	cmd.Flags().IntP("slot", "s", 0, "Pin the session to a slot instead of auto-allocating")
	cmd.Flags().StringP("resume", "r", "", "Resume a session by id, or the latest for this workspace")
	cmd.Flags().Lookup("resume").NoOptDefVal = "auto"
	cmd.Flags().BoolP("persistent", "p", false, "Keep the container across runs instead of deleting it")
	cmd.Flags().StringP("network", "n", "", "Network mode: open, restricted or allowlist")
	cmd.Flags().String("profile", "", "Apply a named profile from the configuration")
	cmd.Flags().StringP("command", "c", "", "Command to run inside the session instead of the agent")

	return cmd
}

func shellError(iErr error) (err error) {
	err = fmt.Errorf("an error occurred while running the session: %s", iErr)
	return
}

func RunShell(cmd *cobra.Command, args []string) (err error) {
	workspace, _ := cmd.Flags().GetString("workspace")
	slot, _ := cmd.Flags().GetInt("slot")
	resume, _ := cmd.Flags().GetString("resume")
	persistent, _ := cmd.Flags().GetBool("persistent")
	networkMode, _ := cmd.Flags().GetString("network")
	profile, _ := cmd.Flags().GetString("profile")
	command, _ := cmd.Flags().GetString("command")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, err := capsule.NewCapsule(ctx)
	if err != nil {
		return shellError(err)
	}
	if profile != "" {
		if !c.Config.ApplyProfile(profile) {
			return shellError(fmt.Errorf("profile %q is not defined", profile))
		}
	}

	handle, err := c.Setup(ctx, capsule.SetupOptions{
		Workspace:     workspace,
		Slot:          slot,
		ResumeID:      resume,
		Persistent:    persistent,
		PersistentSet: cmd.Flags().Changed("persistent"),
		NetworkMode:   networkMode,
	})
	if err != nil {
		return shellError(err)
	}

	handle.Net.StartRefresher(ctx)

	// Cleanup must run on Ctrl-C and SIGTERM too, not only on a clean
	// shell exit.
	cleanupDone := make(chan struct{})
	cleanup := func() {
		defer close(cleanupDone)
		if cErr := c.Cleanup(context.Background(), handle); cErr != nil {
			logger.Errorf("cleanup failed: %v", cErr)
		}
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer func() {
		signal.Stop(sigs)
		cleanup()
		<-cleanupDone
	}()

	if command == "" {
		command = c.Config.Agent.Command
	}
	if command == "" {
		command = c.Config.Defaults.Shell
	}

	mux := terminal.NewMux(handle.Incus, c.Config.Defaults.User)
	env := map[string]string{"TERM": terminal.SanitizeTerm(os.Getenv("TERM"))}

	if handle.Reused || mux.HasLiveSession(ctx) {
		err = mux.Attach(ctx)
	} else {
		err = mux.Run(ctx, command, env)
	}
	if err != nil {
		return shellError(err)
	}

	logger.Printf("session %s ended", handle.Session.ID)
	return nil
}
