// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/exreporter/internal/config"
	"github.com/xkilldash9x/exreporter/internal/observability"
	"github.com/xkilldash9x/exreporter/internal/revision"
	"github.com/xkilldash9x/exreporter/pkg/reporter"
	"github.com/xkilldash9x/exreporter/pkg/trace"
	"github.com/xkilldash9x/exreporter/pkg/tracker"
	"github.com/xkilldash9x/exreporter/pkg/tracker/github"
)

// trackerProvider builds the issue tracker client the commands report to. It
// exists so tests can inject a mock tracker in place of the GitHub API.
type trackerProvider interface {
	Create(ctx context.Context, cfg config.Interface) (tracker.Tracker, error)
}

// defaultTrackerProvider talks to GitHub using the github config section.
type defaultTrackerProvider struct{}

// NewTrackerProvider returns the production tracker provider.
func NewTrackerProvider() trackerProvider {
	return &defaultTrackerProvider{}
}

// Create validates the github section and returns a client, rate limited when
// github.requests_per_second is set.
func (p *defaultTrackerProvider) Create(ctx context.Context, cfg config.Interface) (tracker.Tracker, error) {
	gh := cfg.GitHub()
	if err := gh.Validate(); err != nil {
		return nil, err
	}

	opts := []github.Option{github.WithLogger(observability.GetLogger())}
	if gh.BaseURL != "" {
		opts = append(opts, github.WithBaseURL(gh.BaseURL))
	}
	client, err := github.New(gh.Credentials(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}

	if gh.RequestsPerSecond > 0 {
		return tracker.RateLimited(client, rate.NewLimiter(rate.Limit(gh.RequestsPerSecond), gh.Burst)), nil
	}
	return client, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider trackerProvider) *cobra.Command {
	var panicLog string
	var dryRun bool

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "File one panic dump with the issue tracker",
		Long: `Parses a Go panic dump, extracts the culprit frame and either comments on the
matching issue or opens a new one. With --dry-run the rendered issue is printed
instead and GitHub is never contacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			return runReport(ctx, logger, cfg, panicLog, dryRun, cmd.OutOrStdout(), provider)
		},
	}

	reportCmd.Flags().StringVar(&panicLog, "panic-log", "", "Path to the file holding the panic dump (required)")
	_ = reportCmd.MarkFlagRequired("panic-log")
	reportCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the rendered issue without contacting the tracker")

	return reportCmd
}

// runReport contains the core, testable logic of the report command.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	panicLogPath string,
	dryRun bool,
	out io.Writer,
	provider trackerProvider,
) error {
	exc, err := trace.NewParser().ParseFile(panicLogPath)
	if err != nil {
		return fmt.Errorf("failed to parse panic log: %w", err)
	}

	rcfg, err := reporterConfig(logger, cfg)
	if err != nil {
		return err
	}

	if dryRun {
		_, content, err := reporter.Render(exc, rcfg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Title: %s\n%s", content.Title, content.Body)
		return err
	}

	t, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize issue tracker: %w", err)
	}

	logger.Info("Reporting panic", zap.String("panic_log", panicLogPath))
	res, err := reporter.New(t, reporter.WithLogger(logger)).Report(ctx, exc, rcfg)
	if err != nil {
		return fmt.Errorf("failed to report panic: %w", err)
	}

	if res.Issue == nil {
		_, err = fmt.Fprintf(out, "%s\n", res.Action)
		return err
	}
	_, err = fmt.Fprintf(out, "%s issue #%d %s\n", res.Action, res.Issue.Number, res.Issue.HTMLURL)
	return err
}

// reporterConfig converts the reporter section, stamping the extra content
// with the checkout revision when reporter.include_revision is set. A failed
// revision lookup is logged and the report goes out without it.
func reporterConfig(logger *zap.Logger, cfg config.Interface) (reporter.Config, error) {
	rc := cfg.Reporter()
	rcfg, err := rc.ToReporter()
	if err != nil {
		return reporter.Config{}, fmt.Errorf("invalid reporter configuration: %w", err)
	}
	if !rc.IncludeRevision {
		return rcfg, nil
	}

	root := rc.ProjectRoot
	if root == "" {
		root = "."
	}
	rev, err := revision.Detect(root)
	if err != nil {
		logger.Warn("Could not determine the repository revision.", zap.String("path", root), zap.Error(err))
		return rcfg, nil
	}
	if rcfg.ExtraContent != "" {
		rcfg.ExtraContent += "\n"
	}
	rcfg.ExtraContent += rev.String()
	return rcfg, nil
}
