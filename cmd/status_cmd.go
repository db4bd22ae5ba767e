// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/xataio/searchsync/pkg/query"
)

var statusCmd = &cobra.Command{
	Use:   "status [index]...",
	Short: "Checks the connection, readiness and document count of the configured indexes",
	RunE:  withSignalWatcher(status),
	Example: `
	searchsync status -c searchsync.yaml
	searchsync status articles products -c searchsync.yaml
	searchsync status -c searchsync.yaml --json
	`,
}

func status(ctx context.Context, cmd *cobra.Command, args []string) error {
	sp, _ := pterm.DefaultSpinner.WithText("checking index status...").Start()

	a, err := newApp()
	if err != nil {
		sp.Fail(err.Error())
		return err
	}
	defer a.Close()

	svc := a.queryService()
	handles := args
	if len(handles) == 0 {
		for _, idx := range svc.Indexes() {
			handles = append(handles, idx.Handle)
		}
	}

	session := svc.NewSession()
	defer session.Close()

	statuses := make([]*query.IndexStatus, 0, len(handles))
	unhealthy := []string{}
	for _, handle := range handles {
		s, err := session.Status(ctx, handle)
		if err != nil {
			sp.Fail(err.Error())
			return err
		}
		if !s.Connected || !s.Ready {
			unhealthy = append(unhealthy, handle)
		}
		statuses = append(statuses, s)
	}

	if len(unhealthy) == 0 {
		sp.Success("status check encountered no issues")
	} else {
		sp.Warning("status check identified issues with ", strings.Join(unhealthy, ", "))
	}

	if cmd.Flags().Lookup("json").Value.String() == trueStr {
		return printJSON(cmd.OutOrStdout(), statuses)
	}
	return pterm.DefaultTable.WithHasHeader().WithData(statusTable(statuses)).Render()
}

func statusTable(statuses []*query.IndexStatus) pterm.TableData {
	data := pterm.TableData{{"index", "engine", "mode", "connected", "ready", "documents"}}
	for _, s := range statuses {
		count := "-"
		if s.DocCount != nil {
			count = strconv.Itoa(*s.DocCount)
		}
		data = append(data, []string{
			s.Handle,
			string(s.Engine),
			string(s.Mode),
			strconv.FormatBool(s.Connected),
			strconv.FormatBool(s.Ready),
			count,
		})
	}
	return data
}
