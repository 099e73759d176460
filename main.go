package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ja-portfolio/portfolio-site/internal/analytics"
	"github.com/ja-portfolio/portfolio-site/internal/config"
	"github.com/ja-portfolio/portfolio-site/internal/content"
	"github.com/ja-portfolio/portfolio-site/internal/logging"
	"github.com/ja-portfolio/portfolio-site/internal/rewrite"
	"github.com/ja-portfolio/portfolio-site/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "portfolio",
		Short:        "Data science portfolio site",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newRewritesCmd(), newValidateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	site, err := loadSite(cfg.ContentFile)
	if err != nil {
		return err
	}

	storeOpts := []analytics.Option{analytics.WithLogger(log.Named("analytics"))}
	if cfg.HashSalt != "" {
		storeOpts = append(storeOpts, analytics.WithSalt(cfg.HashSalt))
	}
	store, err := analytics.Open(ctx, cfg.DatabasePath, storeOpts...)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("privacy: visitor tracking enabled with hashed IP addresses",
		zap.String("db", cfg.DatabasePath),
		zap.Duration("retention", cfg.VisitorRetention),
	)

	sched, err := analytics.NewScheduler(store, cfg.CleanupSchedule, cfg.VisitorRetention)
	if err != nil {
		return err
	}
	// Run once at startup so a long-stopped server does not serve stale data.
	sched.RunCleanup()
	sched.Start()
	defer sched.Stop()

	srv, err := server.New(cfg, site, store, log)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func newRewritesCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "rewrites",
		Short: "Print the rewrite table",
		RunE: func(cmd *cobra.Command, args []string) error {
			site, err := loadSite(file)
			if err != nil {
				return err
			}
			table, err := rewrite.NewTable(site.Rewrites)
			if err != nil {
				return err
			}
			return printRewrites(cmd.OutOrStdout(), table)
		},
	}
	cmd.Flags().StringVar(&file, "content", os.Getenv("CONTENT_FILE"), "content YAML file (defaults to the built-in site)")
	return cmd
}

func printRewrites(w io.Writer, table *rewrite.Table) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PREFIX\tSOURCE\tDESTINATION")
	for _, r := range table.Rules() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Prefix(), r.Source, r.Destination)
	}
	return tw.Flush()
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [content.yaml]",
		Short: "Check a content file (or the built-in one) for errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) == 1 {
				file = args[0]
			}
			site, err := loadSite(file)
			if err != nil {
				return err
			}
			if _, err := rewrite.NewTable(site.Rewrites); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d projects, %d embeds, %d rewrites\n",
				len(site.Projects), len(site.Embeds), len(site.Rewrites))
			return nil
		},
	}
}

func loadSite(path string) (*content.Site, error) {
	if path == "" {
		return content.Default()
	}
	return content.Load(path)
}
