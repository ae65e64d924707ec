package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mirkobrombin/capsule/cmd"
	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "capsule",
		Short: "isolated development sessions in Incus containers",
		Long: `capsule runs disposable or long-lived agent coding sessions inside
Incus system containers, with workspace mounting, session persistence
and configurable network isolation.`,
	}

	rootCmd.AddCommand(cmd.NewShellCommand())
	rootCmd.AddCommand(cmd.NewRunCommand())
	rootCmd.AddCommand(cmd.NewAttachCommand())
	rootCmd.AddCommand(cmd.NewListCommand())
	rootCmd.AddCommand(cmd.NewShutdownCommand())
	rootCmd.AddCommand(cmd.NewKillCommand())
	rootCmd.AddCommand(cmd.NewCleanCommand())
	rootCmd.AddCommand(cmd.NewTmuxCommand())
	rootCmd.AddCommand(cmd.NewHealthCommand())
	rootCmd.AddCommand(cmd.NewBuildCommand())

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var exitErr *incus.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode)
		}
		os.Exit(1)
	}
}
