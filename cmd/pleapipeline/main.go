package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"PleaPipeline/internal/app"
	"PleaPipeline/internal/config"
	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/logging"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "pleapipeline",
		Short:         "Moderation, notification and daily devotional pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func build(ctx context.Context) (*app.Application, config.Config, error) {
	cfg := config.Load()
	application, err := app.New(ctx, cfg, logging.New(cfg.Logging))
	if err != nil {
		return nil, cfg, err
	}
	return application, cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume change events, run the daily schedule and serve ops endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, _, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()
			return application.Run(cmd.Context())
		},
	}
}

func generateCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the daily content for one date",
		Long: `Generate builds the prayer, verse and chapter for one date and stores it,
replacing any existing record for that date.

Examples:
  pleapipeline generate
  pleapipeline generate --date 2025-01-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, cfg, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			target := time.Now().In(cfg.Scheduler.Location())
			if date != "" {
				target, err = time.ParseInLocation(domain.DateLayout, date, cfg.Scheduler.Location())
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}

			content, err := application.Generate(cmd.Context(), target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", content.Date, content.VerseReference)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "calendar date (YYYY-MM-DD), defaults to today in the scheduler timezone")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema and change-notification triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, cfg, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied, notifications on %q\n", cfg.Database.NotifyChannel)
			return nil
		},
	}
}
