// File: cmd/watch.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/exreporter/internal/config"
	"github.com/xkilldash9x/exreporter/internal/observability"
	"github.com/xkilldash9x/exreporter/internal/watcher"
	"github.com/xkilldash9x/exreporter/pkg/reporter"
)

// crashWatcher is the part of watcher.Watcher the command drives.
type crashWatcher interface {
	Start(ctx context.Context) error
	Wait()
}

// watcherFactory creates the crashWatcher. Tests swap it for a mock.
type watcherFactory func(logFile string, rep watcher.Reporter, cfg reporter.Config, opts ...watcher.Option) (crashWatcher, error)

func newCrashWatcher(logFile string, rep watcher.Reporter, cfg reporter.Config, opts ...watcher.Option) (crashWatcher, error) {
	return watcher.New(logFile, rep, cfg, opts...)
}

type watchOptions struct {
	fromStart bool
	poll      bool
}

// newWatchCmd creates and configures the `watch` command.
func newWatchCmd(provider trackerProvider, newWatcher watcherFactory) *cobra.Command {
	var logFile, metricsAddr string
	var opts watchOptions

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail a log file and report every panic written to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log") {
				cfg.SetWatcherLogFile(logFile)
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.SetMetricsListenAddr(metricsAddr)
			}

			return runWatch(ctx, logger, cfg, opts, provider, newWatcher)
		},
	}

	watchCmd.Flags().StringVar(&logFile, "log", "", "Log file to watch (overrides watcher.log_file)")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9090")
	watchCmd.Flags().BoolVar(&opts.fromStart, "from-start", false, "Read the log from the beginning instead of the end")
	watchCmd.Flags().BoolVar(&opts.poll, "poll", false, "Poll the log for changes instead of using inotify")

	return watchCmd
}

// runWatch reports panics until ctx is cancelled, then waits for in-flight
// reports to finish.
func runWatch(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	opts watchOptions,
	provider trackerProvider,
	newWatcher watcherFactory,
) error {
	rcfg, err := reporterConfig(logger, cfg)
	if err != nil {
		return err
	}

	t, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize issue tracker: %w", err)
	}

	metrics := observability.NewMetrics()
	repOpts := []reporter.Option{reporter.WithLogger(logger), reporter.WithRecorder(metrics)}
	if cfg.Reporter().Coalesce {
		repOpts = append(repOpts, reporter.WithCoalescing())
	}
	rep := reporter.New(t, repOpts...)

	wOpts := []watcher.Option{
		watcher.WithLogger(logger),
		watcher.WithFlushTimeout(cfg.Watcher().FlushTimeout),
	}
	if opts.fromStart {
		wOpts = append(wOpts, watcher.WithFromStart())
	}
	if opts.poll {
		wOpts = append(wOpts, watcher.WithPolling())
	}
	w, err := newWatcher(cfg.Watcher().LogFile, rep, rcfg, wOpts...)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := w.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		w.Wait()
		return nil
	})
	if addr := cfg.Metrics().ListenAddr; addr != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, addr, logger); err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	logger.Info("Watching for panics.", zap.String("log_file", cfg.Watcher().LogFile))
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Watcher stopped.")
	return nil
}
