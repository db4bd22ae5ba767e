// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xataio/searchsync/pkg/query"
)

var schemaCmd = &cobra.Command{
	Use:   "schema <index>",
	Short: "Prints the backend schema of an index",
	Long: `Prints the backend schema derived from the field mappings of an index, or
with --live the schema currently applied to the backend index.`,
	Args: cobra.ExactArgs(1),
	RunE: withSignalWatcher(schema),
	Example: `
	searchsync schema articles -c searchsync.yaml
	searchsync schema articles --live -c searchsync.yaml`,
}

func schema(ctx context.Context, cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	idx, found := a.config.Catalog.Index(args[0])
	if !found {
		return fmt.Errorf("%w: %s", query.ErrIndexNotFound, args[0])
	}

	scope := a.engines.NewScope()
	defer scope.Close()
	e, err := scope.Engine(idx)
	if err != nil {
		return err
	}

	var s map[string]any
	if cmd.Flags().Lookup("live").Value.String() == trueStr {
		s, err = e.GetIndexSchema(ctx, idx)
	} else {
		s, err = e.BuildSchema(idx)
	}
	if err != nil {
		return fmt.Errorf("reading schema of %s: %w", idx.Handle, err)
	}
	return printYAML(cmd.OutOrStdout(), s)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
