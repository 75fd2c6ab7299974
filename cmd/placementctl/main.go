// placementctl is the operator CLI of the placement service: it runs
// housekeeping jobs by hand, checks pricing catalogs and prints the schema.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobmate/placement-service/internal/config"
	"jobmate/placement-service/internal/db"
	"jobmate/placement-service/internal/logging"
	"jobmate/placement-service/internal/pgstore"
	"jobmate/placement-service/internal/placement"
	"jobmate/placement-service/internal/pricing"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "placementctl",
		Short:        "Operate the job-ad placement service",
		SilenceUsage: true,
	}
	root.AddCommand(newJobsCmd(), newCatalogCmd(), newSchemaCmd())
	return root
}

// ── jobs ─────────────────────────────────────────────────────────────────────

func newJobsCmd() *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "List or run housekeeping jobs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List job names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := placement.NewService(nil, pricing.Default())
			for _, name := range svc.JobNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	run := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job against the configured database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	jobs.AddCommand(list, run)
	return jobs
}

func runJob(ctx context.Context, out io.Writer, job string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, "placementctl")
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	catalog, err := pricing.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	svc := placement.NewService(pgstore.New(pool, logger), catalog,
		placement.WithLogger(logger),
		placement.WithLocation(cfg.Location))

	res, err := svc.RunJob(ctx, job)
	if err != nil {
		logger.Error("job failed", zap.String("job", job), zap.Error(err))
		return err
	}
	return writeJSON(out, res)
}

// ── catalog ──────────────────────────────────────────────────────────────────

func newCatalogCmd() *cobra.Command {
	var path string
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect pricing catalogs",
	}
	catalog.PersistentFlags().StringVar(&path, "file", "", "catalog YAML (default: embedded)")

	check := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := pricing.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d products, %d options)\n",
				args[0], len(c.Products), len(c.Options))
			return nil
		},
	}

	var (
		duration int
		mode     string
		current  string
		options  []string
	)
	quote := &cobra.Command{
		Use:   "quote <product>",
		Short: "Price an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := pricing.Load(path)
			if err != nil {
				return err
			}
			m, err := pricing.ParseMode(mode)
			if err != nil {
				return err
			}
			req := pricing.Request{
				ProductID:        args[0],
				DurationDays:     duration,
				Mode:             m,
				CurrentProductID: current,
			}
			for _, id := range options {
				req.Options = append(req.Options, pricing.OptionRequest{ID: id})
			}
			if err := c.Validate(req); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), c.Quote(req))
		},
	}
	quote.Flags().IntVar(&duration, "days", 30, "duration in days")
	quote.Flags().StringVar(&mode, "mode", "new", "new, upgrade or renew")
	quote.Flags().StringVar(&current, "current", "", "current product for upgrades")
	quote.Flags().StringSliceVar(&options, "option", nil, "option id, repeatable")

	catalog.AddCommand(check, quote)
	return catalog
}

// ── schema ───────────────────────────────────────────────────────────────────

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the database schema",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), db.Schema())
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
