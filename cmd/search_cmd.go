// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/engine"
)

var searchCmd = &cobra.Command{
	Use:   "search <index> <query>",
	Short: "Runs a search against a configured index and prints the JSON result",
	Args:  cobra.ExactArgs(2),
	RunE:  withSignalWatcher(search),
	Example: `
	searchsync search articles "release notes" -c searchsync.yaml
	searchsync search articles go --options '{"perPage": 5, "filters": {"category": ["news"]}, "facets": ["category"]}'
	searchsync search articles go --autocomplete`,
}

func search(ctx context.Context, cmd *cobra.Command, args []string) error {
	rawOpts, err := parseSearchOptions(cmd.Flags().Lookup("options").Value.String())
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	session := a.queryService().NewSession()
	defer session.Close()

	var res *engine.SearchResult
	if cmd.Flags().Lookup("autocomplete").Value.String() == trueStr {
		res, err = session.Autocomplete(ctx, args[0], args[1], rawOpts)
	} else {
		res, err = session.Search(ctx, args[0], args[1], rawOpts)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

const trueStr = "true"

func parseSearchOptions(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	opts := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, engine.NewValidationError("options: invalid JSON: %v", err)
	}
	return opts, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
