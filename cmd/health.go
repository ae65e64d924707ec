package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/capsule/pkg/capsule"
	"github.com/mirkobrombin/capsule/pkg/health"
	"github.com/mirkobrombin/capsule/pkg/tools"
)

func NewHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the host is ready to run sessions",
		Long: `Check that the host is ready to run sessions.

Exit codes: 0 all checks passed, 1 a check failed, 2 the incus daemon
is unreachable.`,
		RunE: RunHealth,
	}
	cmd.Flags().StringP("format", "f", "table", "Output format: table or json")

	return cmd
}

func healthError(iErr error) (err error) {
	err = fmt.Errorf("an error occurred while checking host health: %s", iErr)
	return
}

func RunHealth(cmd *cobra.Command, args []string) (err error) {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return healthError(fmt.Errorf("unknown format %q", format))
	}

	ctx := cmd.Context()
	c, err := capsule.NewCapsule(ctx)
	if err != nil {
		return healthError(err)
	}

	checks := health.Run(ctx, c.Options.SessionsPath, c.Options.Image)

	if format == "json" {
		type entry struct {
			Name   string `json:"name"`
			OK     bool   `json:"ok"`
			Detail string `json:"detail"`
		}
		out := struct {
			OK     bool    `json:"ok"`
			Checks []entry `json:"checks"`
		}{OK: health.AllOK(checks), Checks: []entry{}}
		for _, check := range checks {
			out.Checks = append(out.Checks, entry{check.Name, check.OK, check.Detail})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err = enc.Encode(out); err != nil {
			return healthError(err)
		}
	} else {
		data := [][]string{}
		for _, check := range checks {
			status := "ok"
			if !check.OK {
				status = "FAIL"
			}
			data = append(data, []string{check.Name, status, check.Detail})
		}
		tools.ShowTable([]string{"Check", "Status", "Detail"}, data)
	}

	if health.AllOK(checks) {
		return nil
	}
	// The daemon being down makes every other result meaningless,
	// distinguish it for scripts.
	for _, check := range checks {
		if check.Name == "incus daemon" && !check.OK {
			fmt.Fprintln(os.Stderr, "incus daemon unreachable")
			os.Exit(2)
		}
	}
	os.Exit(1)
	return nil
}
