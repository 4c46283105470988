// Command sitediff watches web pages and posts an image of every change.
//
// Usage:
//
//	sitediff run   [--config sitediff.yaml]           # one pass over the site list
//	sitediff watch [--interval 1h] [--listen :8080]   # periodic passes plus status API
//	sitediff diff old.html new.html -o diff.png       # diff two local files
//	sitediff sites                                    # parse and list the site list
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/sitediff/observability"
)

var (
	flagConfig   string
	flagLogLevel string
	logger       *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sitediff",
	Short: "sitediff: watch web pages and broadcast diff images of their changes",
	Long: `sitediff fetches a list of pages, compares each with its last stored
version and, when it changed, renders a colored line diff to PNG and posts it
to the configured channel. Operator alerts go to a separate admin chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, err := observability.ParseLevel(flagLogLevel)
		if err != nil {
			return err
		}
		logger = observability.NewLogger(os.Stderr, level)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", env("SITEDIFF_CONFIG", "sitediff.yaml"), "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "sitediff:", err)
		os.Exit(1)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
