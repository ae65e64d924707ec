/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/capsule/pkg/capsule"
	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/logger"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <command> [args...]",
		Short: "Run a single command in an isolated container",
		Long: `Run a single command in an isolated container and exit.

The container follows the same lifecycle as an interactive session, and
the command's exit code becomes capsule's exit code.`,
		Args: cobra.MinimumNArgs(1),
		RunE: RunCommand,
	}
	cmd.Flags().StringP("workspace", "w", "", "Workspace directory to mount (default: current directory)")
	cmd.Flags().StringP("resume", "r", "", "Resume a session by id, or the latest for this workspace")
	cmd.Flags().Lookup("resume").NoOptDefVal = "auto"
	cmd.Flags().BoolP("persistent", "p", false, "Keep the container across runs instead of deleting it")
	cmd.Flags().StringP("network", "n", "", "Network mode: open, restricted or allowlist")

	return cmd
}

func runError(iErr error) (err error) {
	err = fmt.Errorf("an error occurred while running the command: %s", iErr)
	return
}

func RunCommand(cmd *cobra.Command, args []string) (err error) {
	workspace, _ := cmd.Flags().GetString("workspace")
	resume, _ := cmd.Flags().GetString("resume")
	persistent, _ := cmd.Flags().GetBool("persistent")
	networkMode, _ := cmd.Flags().GetString("network")

	ctx := cmd.Context()
	c, err := capsule.NewCapsule(ctx)
	if err != nil {
		return runError(err)
	}

	handle, err := c.Setup(ctx, capsule.SetupOptions{
		Workspace:     workspace,
		ResumeID:      resume,
		Persistent:    persistent,
		PersistentSet: cmd.Flags().Changed("persistent"),
		NetworkMode:   networkMode,
	})
	if err != nil {
		return runError(err)
	}
	defer func() {
		if cErr := c.Cleanup(ctx, handle); cErr != nil {
			logger.Errorf("cleanup failed: %v", cErr)
		}
	}()

	_, err = handle.Incus.Exec(ctx, strings.Join(args, " "), incus.ExecOptions{
		User: c.Config.Defaults.User,
		Cwd:  "/workspace",
	})

	var exitErr *incus.ExitError
	if errors.As(err, &exitErr) {
		// Propagate the in-container exit code after cleanup runs.
		if cErr := c.Cleanup(ctx, handle); cErr != nil {
			logger.Errorf("cleanup failed: %v", cErr)
		}
		os.Exit(exitErr.ExitCode)
	}
	if err != nil {
		return runError(err)
	}
	return nil
}
