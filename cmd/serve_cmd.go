// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xataio/searchsync/pkg/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the search and sync API over HTTP",
	Long: `Serves the search and sync API over HTTP. The sync endpoints are only
available when a record source is configured. Without a kafka queue, refresh
jobs are processed by the server itself.`,
	RunE: withSignalWatcher(serve),
	Example: `
	searchsync serve -c searchsync.yaml
	SEARCHSYNC_SERVER_ADDRESS=:9000 searchsync serve -c searchsync.yaml`,
}

func serve(ctx context.Context, cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	eg, ctx := errgroup.WithContext(ctx)

	var syncer server.Syncer
	switch rt, err := a.newSyncRuntime(ctx, syncOptions{}); {
	case errors.Is(err, errNoSource):
		a.logger.Info("no record source configured, sync endpoints disabled")
	case err != nil:
		return err
	default:
		defer rt.Close()
		syncer = rt.orchestrator
		if rt.local != nil {
			eg.Go(func() error {
				return rt.local.Run(ctx, rt.orchestrator)
			})
		}
	}

	srv := server.New(&a.config.Server, a.queryService(), syncer, server.WithLogger(a.logger))
	eg.Go(srv.Start)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
