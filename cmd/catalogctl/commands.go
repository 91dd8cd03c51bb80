package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlesng35/ledgercat/internal/app"
	"github.com/charlesng35/ledgercat/internal/bootstrap"
	"github.com/charlesng35/ledgercat/internal/catalog"
	"github.com/charlesng35/ledgercat/internal/migration"
	"github.com/charlesng35/ledgercat/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

// runtimeFactory builds the runtime for a command; tests replace it.
type runtimeFactory func(cfg *app.Config) (*bootstrap.Runtime, error)

type cli struct {
	configPath string
	logLevel   string
	newRuntime runtimeFactory
	out        io.Writer
	errOut     io.Writer
}

func newRootCmd() *cobra.Command {
	return newCLI(func(cfg *app.Config) (*bootstrap.Runtime, error) {
		return bootstrap.New(cfg)
	}).root()
}

func newCLI(factory runtimeFactory) *cli {
	return &cli{newRuntime: factory, out: os.Stdout, errOut: os.Stderr}
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Operate the ledger catalog cache and its content storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to configuration directory or file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(c.syncCmd(), c.resubmitCmd(), c.migrateCmd(), c.productCmd())
	return root
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh every registry product into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *bootstrap.Runtime) error {
				result, err := rt.Synchronizer.SyncNow(ctx)
				if err != nil {
					return err
				}
				return c.printJSON(map[string]any{
					"synced":   result.Synced,
					"errors":   result.Errors,
					"duration": result.Duration.String(),
				})
			})
		},
	}
}

func (c *cli) resubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resubmit",
		Short: "Renew ephemeral content past its resubmission threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *bootstrap.Runtime) error {
				if rt.Scheduler == nil {
					return errors.New("ephemeral storage is not configured")
				}
				result, err := rt.Scheduler.CheckAndResubmit(ctx)
				if err != nil {
					return err
				}
				return c.printJSON(result)
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show expiry state of ephemeral content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *bootstrap.Runtime) error {
				if rt.Scheduler == nil {
					return errors.New("ephemeral storage is not configured")
				}
				stats, err := rt.Scheduler.Stats(ctx)
				if err != nil {
					return err
				}
				return c.printJSON(stats)
			})
		},
	})
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	var (
		from, to  string
		batchSize int
		dryRun    bool
		verify    bool
		delay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy catalog content from one storage backend to another",
		Long: `Copy catalog content from one storage backend to another.

Examples:
  catalogctl migrate --from ephemeral --to durable
  catalogctl migrate --from durable --to ephemeral --batch-size 25 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from = strings.ToLower(strings.TrimSpace(from))
			to = strings.ToLower(strings.TrimSpace(to))
			if from == "" || to == "" {
				return errors.New("--from and --to are required")
			}

			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *bootstrap.Runtime) error {
				source, err := rt.Stores.Store(from)
				if err != nil {
					return err
				}
				destination, err := rt.Stores.Store(to)
				if err != nil {
					return err
				}

				opts := rt.Config.Migration.Options()
				if cmd.Flags().Changed("batch-size") {
					opts.BatchSize = batchSize
				}
				if cmd.Flags().Changed("dry-run") {
					opts.DryRun = dryRun
				}
				if cmd.Flags().Changed("verify") {
					opts.Verify = verify
				}
				if cmd.Flags().Changed("batch-delay") {
					opts.BatchDelay = delay
				}

				progress, err := rt.Engine.MigrateAll(ctx, source, destination, opts, c.printProgress)
				if err != nil {
					return err
				}
				return c.printJSON(progress)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "source provider (durable or ephemeral)")
	cmd.Flags().StringVar(&to, "to", "", "destination provider (durable or ephemeral)")
	cmd.Flags().IntVar(&batchSize, "batch-size", migration.DefaultBatchSize, "items per batch")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch only; upload nothing and keep pointers")
	cmd.Flags().BoolVar(&verify, "verify", true, "compare each copy with its source before switching")
	cmd.Flags().DurationVar(&delay, "batch-delay", migration.DefaultBatchDelay, "pause between batches")
	return cmd
}

func (c *cli) productCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "product <id>",
		Short: "Show a product through the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *bootstrap.Runtime) error {
				product, err := rt.Cache.GetProduct(ctx, args[0], catalog.GetOptions{ForceRefresh: refresh})
				if err != nil {
					return err
				}
				if product.Stale() {
					fmt.Fprintln(c.errOut, "warning: registry unreachable, serving last cached copy")
				}
				return c.printJSON(product)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cache TTL")
	return cmd
}

func (c *cli) withRuntime(ctx context.Context, fn func(ctx context.Context, rt *bootstrap.Runtime) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if _, err := app.ApplyRuntimeDefaults(cfg); err != nil {
		return err
	}
	if err := logger.InitWithOptions(logger.Options{Level: c.logLevel, Format: "console"}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := c.newRuntime(cfg)
	if err != nil {
		return err
	}

	runErr := fn(ctx, rt)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.Shutdown(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (c *cli) loadConfig() (*app.Config, error) {
	path := strings.TrimSpace(c.configPath)
	if path == "" {
		return app.LoadConfig()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config path %q: %w", path, err)
	}
	if !info.IsDir() {
		path = filepath.Dir(path)
	}
	return app.LoadConfig(path)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printProgress(p migration.Progress) {
	if p.Done {
		return
	}
	fmt.Fprintf(c.errOut, "batch %d/%d  %d/%d  migrated=%d failed=%d skipped=%d  %s\n",
		p.Batch, p.Batches, p.Processed(), p.Total, p.Migrated, p.Failed, p.Skipped, p.Current)
}
