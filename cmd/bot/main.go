package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hootmeow/bf1942-map-alert/internal/bot"
	"github.com/hootmeow/bf1942-map-alert/internal/config"
	"github.com/hootmeow/bf1942-map-alert/internal/storage"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:           "bf1942-alert",
		Short:         "BF1942 server map, round and player alerts for Discord",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setupLogging(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	load := func() *config.Config { return cfg }
	cmd.AddCommand(newRunCommand(load), newOnceCommand(load), newMigrateCommand(load))
	return cmd
}

func newRunCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the alert engine until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Starting BF1942 alert bot")

			// Create context that cancels on interrupt
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := bot.New(ctx, cfg(), bot.Options{})
			if err != nil {
				return fmt.Errorf("failed to create bot: %w", err)
			}

			if err := b.Start(ctx); err != nil {
				b.Stop()
				return fmt.Errorf("failed to start bot: %w", err)
			}

			slog.Info("Bot is running. Press Ctrl+C to stop.")
			<-ctx.Done()

			slog.Info("Shutting down...")
			if err := b.Stop(); err != nil {
				slog.Error("Error during shutdown", "error", err)
			}

			slog.Info("Bot stopped")
			return nil
		},
	}
}

func newOnceCommand(cfg func() *config.Config) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single alert cycle and exit",
		Long: `Run a single alert cycle and exit.

With --dry-run, rendered notifications are printed instead of sent. Watermarks
still advance and the notifications stay queued for the next real run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := bot.New(ctx, cfg(), bot.Options{DryRun: dryRun, Out: cmd.OutOrStdout()})
			if err != nil {
				return fmt.Errorf("failed to create bot: %w", err)
			}
			defer b.Stop()

			res, err := b.RunOnce(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: servers=%d transitions=%d queued=%d delivered=%d transient=%d permanent=%d errors=%d\n",
				res.ID, res.Servers, res.Transitions, res.Queued, res.Delivered, res.Transient, res.Permanent, len(res.Errors))
			for _, e := range res.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  error: %v\n", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print notifications instead of sending them")
	return cmd
}

func newMigrateCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the engine database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := storage.NewRepository(cfg().DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer repo.Close()

			slog.Info("Engine database ready", "path", cfg().DatabasePath)
			return nil
		},
	}
}

func setupLogging(level, format string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
