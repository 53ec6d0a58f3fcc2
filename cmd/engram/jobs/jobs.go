// Package jobscmder provides the jobs command for running maintenance jobs
// against local storage.
package jobscmder

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/cmd/engram/sqlitepath"
	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/jobs"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/store"
	storesqlite "github.com/papercomputeco/engram/pkg/store/sqlite"
	"github.com/papercomputeco/engram/pkg/summary"
)

type jobsCommander struct {
	sqlitePath string
	debug      bool
	logger     *zap.Logger
}

const jobsLongDesc string = `Run memory maintenance jobs against local storage.

Jobs consolidate and decay stored memory on different cadences:
  nightly    Merge duplicate claims and refresh stale category summaries
  weekly     Decay confidence of unaccessed facts and archive expired ones
  monthly    Re-embed active facts and rebuild the knowledge graph

The monthly job needs a configured embedder and vector store, so it is only
available through a running server (engram serve + POST /jobs/monthly).

Examples:
  engram jobs list
  engram jobs run nightly
  engram jobs run weekly --sqlite ./engram.db
  engram jobs process --limit 10`

const jobsShortDesc string = "Run memory maintenance jobs"

func NewJobsCmd() *cobra.Command {
	cmder := &jobsCommander{}

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: jobsShortDesc,
		Long:  jobsLongDesc,
	}

	cmd.AddCommand(newListCmd(cmder))
	cmd.AddCommand(newRunCmd(cmder))
	cmd.AddCommand(newProcessCmd(cmder))

	return cmd
}

func newListCmd(cmder *jobsCommander) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available maintenance jobs",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println("nightly")
			fmt.Println("weekly")
			return nil
		},
	}
}

func newRunCmd(cmder *jobsCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a maintenance job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.runJob(cmd.Context(), args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to SQLite database (default: auto-resolve)")

	return cmd
}

func (c *jobsCommander) runJob(ctx context.Context, name string) error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	driver, err := c.newStoreDriver()
	if err != nil {
		return err
	}
	defer driver.Close()

	registry := summary.NewRegistry(driver, &summary.Joiner{}, c.logger)

	runner := jobs.NewRunner(c.logger)
	runner.Register(jobs.NewNightly(driver, registry, jobs.DefaultNightlyConfig(), c.logger))
	runner.Register(jobs.NewWeekly(driver, registry, jobs.DefaultWeeklyConfig(), c.logger))

	fmt.Println()
	var report *jobs.Report
	if err := cliui.Step(os.Stdout, name, func() error {
		var runErr error
		report, runErr = runner.Run(ctx, name)
		return runErr
	}); err != nil {
		return err
	}

	fmt.Printf("    processed: %d\n", report.Processed)
	fmt.Printf("    errored:   %d\n", report.Errored)
	for detail, count := range report.Details {
		fmt.Printf("    %s: %d\n", detail, count)
	}
	fmt.Println()

	return nil
}

func (c *jobsCommander) newStoreDriver() (store.Driver, error) {
	path, err := sqlitepath.ResolveSQLitePath(c.sqlitePath)
	if err != nil {
		return nil, err
	}

	driver, err := storesqlite.NewDriver(path)
	if err != nil {
		return nil, fmt.Errorf("creating sqlite store: %w", err)
	}

	c.logger.Info("using SQLite storage", zap.String("path", path))
	return driver, nil
}
