package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/sitediff/config"
	"github.com/hazyhaar/sitediff/httpapi"
	"github.com/hazyhaar/sitediff/observability"
	"github.com/hazyhaar/sitediff/shield"
	"github.com/hazyhaar/sitediff/sites"
	"github.com/hazyhaar/sitediff/snapshot"
	"github.com/hazyhaar/sitediff/watch"
)

var flagSites string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check every site once and exit",
	Long: `Run fetches every site of the site list once, in order, and reports
changes. It exits non-zero when the configuration or the site list cannot be
read; per-site failures are alerted and do not change the exit status.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.detector.RunFile(cmd.Context(), cfg.SitesFile)
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

var (
	flagInterval time.Duration
	flagListen   string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check every site periodically",
	Long: `Watch runs a pass immediately and then every --interval until
interrupted. The site list is re-read on every pass. With --listen, a
read-only status API is served on that address.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("interval") {
			cfg.Watch.Interval = flagInterval
		}
		if cmd.Flags().Changed("listen") {
			cfg.Watch.Listen = flagListen
		}
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return runWatch(cmd.Context(), a)
	},
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Parse the site list and print each site with its modes and storage key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		list, err := sites.Load(cfg.SitesFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, s := range list {
			fmt.Fprintf(out, "%-8s %-8s %s\n\t%s\n", s.FetchMode(), s.ContentMode(), s.URL, snapshot.Key(s.URL))
		}
		fmt.Fprintf(out, "%d sites\n", len(list))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&flagSites, "sites", "", "site list file (overrides sites_file)")
	watchCmd.Flags().StringVar(&flagSites, "sites", "", "site list file (overrides sites_file)")
	watchCmd.Flags().DurationVar(&flagInterval, "interval", time.Hour, "time between passes")
	watchCmd.Flags().StringVar(&flagListen, "listen", "", "status API address, e.g. 127.0.0.1:8080")
	sitesCmd.Flags().StringVar(&flagSites, "sites", "", "site list file (overrides sites_file)")
	rootCmd.AddCommand(runCmd, watchCmd, sitesCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagSites != "" {
		cfg.SitesFile = flagSites
	}
	return cfg, nil
}

func runWatch(ctx context.Context, a *app) error {
	loop := watch.New(watch.Options{
		Interval: a.cfg.Watch.Interval,
		Logger:   a.logger,
		OnCycle: func(_ int64, d time.Duration, _ error) {
			a.metrics.Duration(observability.MetricCycleDurationMs, d, nil)
			if days := a.cfg.Watch.AuditRetentionDays; days > 0 && a.audit != nil {
				n, err := a.audit.Cleanup(ctx, days)
				if err != nil {
					a.logger.Warn("sitediff: audit cleanup failed", "error", err)
				} else if n > 0 {
					a.logger.Info("sitediff: audit pruned", "rows", n)
				}
			}
		},
	})

	var srv *http.Server
	errc := make(chan error, 1)
	if a.cfg.Watch.Listen != "" {
		api, err := httpapi.New(httpapi.Config{
			Status:    a.detector,
			Store:     a.store,
			DataDir:   a.cfg.DataDir,
			Audit:     a.audit,
			Metrics:   a.metrics,
			Watch:     loop,
			Logger:    a.logger,
			RateLimit: shield.NewRateLimiter(120, time.Minute, "/healthz"),
		})
		if err != nil {
			return err
		}
		srv = &http.Server{
			Addr:              a.cfg.Watch.Listen,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("sitediff: status API listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx, func(ctx context.Context) error {
			_, err := a.detector.RunFile(ctx, a.cfg.SitesFile)
			return err
		})
	}()

	var err error
	select {
	case <-done:
	case err = <-errc:
		cancel()
		<-done
	}

	if srv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		if serr := srv.Shutdown(shutCtx); serr != nil {
			a.logger.Warn("sitediff: status API shutdown", "error", serr)
		}
	}
	a.logger.Info("sitediff: stopped", "cycles", loop.Stats().Cycles)
	return err
}
