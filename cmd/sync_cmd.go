// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xataio/searchsync/internal/progress"
	"github.com/xataio/searchsync/pkg/orchestrator"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronises search indexes with the records in Postgres",
}

var syncRefreshCmd = &cobra.Command{
	Use:   "refresh <index>...",
	Short: "Rebuilds the indexes from the live records",
	Long: `Rebuilds the indexes from the live records. Backends able to swap indexes
atomically are rebuilt into a temporary index swapped in at the end, others
are rebuilt in place and cleaned of orphan documents.

Without a kafka queue the jobs are processed in process and the command
returns once the refresh is complete. With a kafka queue the command returns
once the jobs are dispatched to the workers.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withSignalWatcher(syncRefresh),
	Example: `
	searchsync sync refresh articles products -c searchsync.yaml
	searchsync sync refresh articles --dry-run
	searchsync sync refresh articles --force`,
}

var syncOrphansCmd = &cobra.Command{
	Use:   "orphans <index>...",
	Short: "Removes the documents whose record is no longer live",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withSignalWatcher(syncOrphans),
	Example: `
	searchsync sync orphans articles -c searchsync.yaml`,
}

var syncDocumentCmd = &cobra.Command{
	Use:   "document <index> <id>",
	Short: "Brings one document in line with its record",
	Args:  cobra.ExactArgs(2),
	RunE:  withSignalWatcher(syncDocument),
	Example: `
	searchsync sync document articles 42 -c searchsync.yaml
	searchsync sync document articles 42 --delete`,
}

func syncRefresh(ctx context.Context, cmd *cobra.Command, args []string) error {
	dryRun := cmd.Flags().Lookup("dry-run").Value.String() == trueStr
	opts := orchestrator.RefreshOptions{
		Force: cmd.Flags().Lookup("force").Value.String() == trueStr,
	}

	a, err := newApp(withDryRun(dryRun))
	if err != nil {
		return err
	}
	defer a.Close()

	reporter := progress.NewReporter()
	defer reporter.Close()

	rt, err := a.newSyncRuntime(ctx, syncOptions{forceLocal: dryRun, progress: reporter})
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.local == nil {
		plans, err := refreshAll(ctx, rt.orchestrator, args, opts)
		if printErr := printRefreshPlans(plans, false); printErr != nil {
			return printErr
		}
		pterm.Info.Println("jobs dispatched, progress is reported by the workers")
		return err
	}

	eg, runCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return rt.local.Run(runCtx, rt.orchestrator)
	})
	plans, refreshErr := refreshAll(runCtx, rt.orchestrator, args, opts)
	waitErr := rt.local.Wait(runCtx)
	rt.local.Close()
	runErr := eg.Wait()
	reporter.Close()

	if err := printRefreshPlans(plans, true); err != nil {
		return err
	}
	if dryRun {
		if err := printDryRunCounts(ctx, a, plans); err != nil {
			return err
		}
	}
	return errors.Join(refreshErr, waitErr, runErr, rt.local.Err())
}

func refreshAll(ctx context.Context, o *orchestrator.Orchestrator, handles []string, opts orchestrator.RefreshOptions) ([]*orchestrator.RefreshPlan, error) {
	plans := make([]*orchestrator.RefreshPlan, 0, len(handles))
	var errs error
	for _, handle := range handles {
		plan, err := o.Refresh(ctx, handle, opts)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("refreshing %s: %w", handle, err))
			continue
		}
		plans = append(plans, plan)
	}
	return plans, errs
}

func printRefreshPlans(plans []*orchestrator.RefreshPlan, completed bool) error {
	if len(plans) == 0 {
		return nil
	}
	data := pterm.TableData{{"index", "run", "target", "atomic swap", "records", "batches"}}
	for _, p := range plans {
		data = append(data, []string{
			p.IndexHandle,
			p.RunID,
			p.TargetName,
			strconv.FormatBool(p.Swap),
			strconv.Itoa(p.Total),
			strconv.Itoa(p.Batches),
		})
	}
	if completed {
		pterm.Success.Println("refresh complete")
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// printDryRunCounts shows what the in-memory engines ended up with.
func printDryRunCounts(ctx context.Context, a *app, plans []*orchestrator.RefreshPlan) error {
	session := a.queryService().NewSession()
	defer session.Close()

	data := pterm.TableData{{"index", "documents"}}
	for _, p := range plans {
		count, err := session.DocCount(ctx, p.IndexHandle)
		if err != nil {
			return err
		}
		data = append(data, []string{p.IndexHandle, strconv.Itoa(count)})
	}
	pterm.Info.Println("dry run, nothing was written to the backends")
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func syncOrphans(ctx context.Context, cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	reporter := progress.NewReporter()
	defer reporter.Close()

	rt, err := a.newSyncRuntime(ctx, syncOptions{forceLocal: true, progress: reporter})
	if err != nil {
		return err
	}
	defer rt.Close()

	data := pterm.TableData{{"index", "indexed", "live", "deleted"}}
	var errs error
	for _, handle := range args {
		report, err := rt.orchestrator.CleanupOrphans(ctx, handle)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("cleaning up %s: %w", handle, err))
			continue
		}
		data = append(data, []string{
			handle,
			strconv.Itoa(report.Indexed),
			strconv.Itoa(report.Live),
			strconv.Itoa(report.Deleted),
		})
	}
	reporter.Close()

	if len(data) > 1 {
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
	}
	return errs
}

func syncDocument(ctx context.Context, cmd *cobra.Command, args []string) error {
	del := cmd.Flags().Lookup("delete").Value.String() == trueStr

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rt, err := a.newSyncRuntime(ctx, syncOptions{forceLocal: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.orchestrator.SyncDocument(ctx, orchestrator.SyncDocument{
		IndexHandle: args[0],
		SourceID:    args[1],
		Delete:      del,
	}); err != nil {
		return err
	}

	if del {
		pterm.Success.Printfln("document %s removed from %s", args[1], args[0])
	} else {
		pterm.Success.Printfln("document %s synced in %s", args[1], args[0])
	}
	return nil
}
