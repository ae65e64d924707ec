/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/capsule/pkg/capsule"
	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/tools"
	"github.com/mirkobrombin/capsule/pkg/types"
)

func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List capsule containers and their sessions",
		Long:  "List the containers managed by capsule together with their session details.",
		RunE:  ListContainers,
	}
	cmd.Flags().BoolP("all", "a", false, "Include stopped containers and saved sessions without one")
	cmd.Flags().StringP("format", "f", "table", "Output format: table or json")

	return cmd
}

func listError(iErr error) (err error) {
	err = fmt.Errorf("an error occurred while listing containers: %s", iErr)
	return
}

func ListContainers(cmd *cobra.Command, args []string) (err error) {
	all, _ := cmd.Flags().GetBool("all")
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return listError(fmt.Errorf("unknown format %q", format))
	}

	ctx := cmd.Context()
	c, err := capsule.NewCapsule(ctx)
	if err != nil {
		return listError(err)
	}

	containers, err := incus.List(ctx, "")
	if err != nil {
		return listError(err)
	}

	var infos []types.ContainerInfo
	for _, container := range containers {
		if _, _, ok := capsule.ParseContainerName(c.Options.ContainerPrefix, container.Name); !ok {
			continue
		}
		if !all && container.Status != "Running" {
			continue
		}
		info := types.ContainerInfo{
			Name:   container.Name,
			Status: container.Status,
			IPv4:   incus.FirstIPv4(container),
		}
		if session, sErr := c.Store.LoadByContainerName(container.Name); sErr == nil {
			info.Workspace = session.Workspace
			info.Persistent = session.Persistent
		}
		infos = append(infos, info)
	}

	if all {
		// Session records whose container is gone, resumable later.
		seen := make(map[string]bool)
		for _, container := range containers {
			seen[container.Name] = true
		}
		sessions, sErr := c.Store.List()
		if sErr != nil {
			return listError(sErr)
		}
		for _, session := range sessions {
			if seen[session.ContainerName] {
				continue
			}
			infos = append(infos, types.ContainerInfo{
				Name:       session.ContainerName,
				Status:     "Absent",
				Workspace:  session.Workspace,
				Persistent: session.Persistent,
			})
		}
	}

	if format == "json" {
		out := map[string][]types.ContainerInfo{"active_containers": infos}
		if infos == nil {
			out["active_containers"] = []types.ContainerInfo{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(infos) == 0 {
		fmt.Println("No capsule containers found.")
		return nil
	}

	data := [][]string{}
	for _, info := range infos {
		data = append(data, []string{
			info.Name,
			info.Status,
			info.IPv4,
			info.Workspace,
			strconv.FormatBool(info.Persistent),
		})
	}
	tools.ShowTable([]string{"Name", "Status", "IPv4", "Workspace", "Persistent"}, data)
	return nil
}
