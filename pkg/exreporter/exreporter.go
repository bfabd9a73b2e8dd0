// Package exreporter is the entry point for applications: it files a captured
// failure with a named issue tracker, and wraps HTTP handlers and goroutines so
// their panics are filed automatically.
package exreporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/exreporter/pkg/aggregate"
	"github.com/xkilldash9x/exreporter/pkg/format"
	"github.com/xkilldash9x/exreporter/pkg/reporter"
	"github.com/xkilldash9x/exreporter/pkg/trace"
	"github.com/xkilldash9x/exreporter/pkg/tracker"
	"github.com/xkilldash9x/exreporter/pkg/tracker/github"
)

// ErrUnknownTracker is returned for a tracker name nobody registered.
var ErrUnknownTracker = errors.New("unknown issue tracker")

// Credentials identify the target repository and authorize the calls.
type Credentials = tracker.Credentials

// Settings carry the connection options a Factory may honor.
type Settings struct {
	Logger     *zap.Logger
	BaseURL    string
	HTTPClient *http.Client
}

// Factory builds a tracker binding.
type Factory func(creds Credentials, s Settings) (tracker.Tracker, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func init() {
	Register(github.Name, func(creds Credentials, s Settings) (tracker.Tracker, error) {
		opts := []github.Option{github.WithLogger(s.Logger)}
		if s.BaseURL != "" {
			opts = append(opts, github.WithBaseURL(s.BaseURL))
		}
		if s.HTTPClient != nil {
			opts = append(opts, github.WithHTTPClient(s.HTTPClient))
		}
		return github.New(creds, opts...)
	})
}

// Register makes a tracker binding available under name, replacing any
// previous registration.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Trackers lists the registered names in sorted order.
func Trackers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTracker, name)
	}
	return f, nil
}

type options struct {
	cfg      reporter.Config
	settings Settings
	tracker  tracker.Tracker
	timeout  time.Duration
	repanic  bool
}

// Option customizes a report.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		cfg:      reporter.DefaultConfig(),
		settings: Settings{Logger: zap.NewNop()},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithTitleTemplate replaces the issue title template.
func WithTitleTemplate(t string) Option { return func(o *options) { o.cfg.Templates.Title = t } }

// WithBodyTemplate replaces the stack trace section template.
func WithBodyTemplate(t string) Option { return func(o *options) { o.cfg.Templates.Body = t } }

// WithTemplates replaces every template; empty fields keep their defaults.
func WithTemplates(t format.Templates) Option { return func(o *options) { o.cfg.Templates = t } }

// WithExtraContent appends free text to the issue body.
func WithExtraContent(s string) Option { return func(o *options) { o.cfg.ExtraContent = s } }

// WithMaxComments sets the comment count at which an issue is retired.
func WithMaxComments(n int) Option { return func(o *options) { o.cfg.MaxComments = n } }

// WithFreshnessInterval sets how recently updated an issue may be before it is reused.
func WithFreshnessInterval(d time.Duration) Option {
	return func(o *options) { o.cfg.FreshnessInterval = d }
}

// WithLocals toggles the locals section.
func WithLocals(include bool) Option { return func(o *options) { o.cfg.IncludeLocals = include } }

// WithLabels replaces the label set.
func WithLabels(labels ...string) Option {
	return func(o *options) { o.cfg.Labels = append([]string(nil), labels...) }
}

// WithRequest attaches the request being served.
func WithRequest(req any) Option { return func(o *options) { o.cfg.Request = req } }

// WithOnFresh selects what happens to a matching issue updated within the freshness interval.
func WithOnFresh(b aggregate.FreshBehavior) Option { return func(o *options) { o.cfg.OnFresh = b } }

// WithClassifier replaces the application/dependency frame rules.
func WithClassifier(c trace.Classifier) Option { return func(o *options) { o.cfg.Classifier = c } }

// WithProjectRoot strips root from absolute frame paths.
func WithProjectRoot(root string) Option { return func(o *options) { o.cfg.ProjectRoot = root } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.settings.Logger = l } }

// WithBaseURL points the tracker binding at another API root.
func WithBaseURL(u string) Option { return func(o *options) { o.settings.BaseURL = u } }

// WithHTTPClient sets the HTTP client of the tracker binding.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.settings.HTTPClient = c } }

// WithTracker bypasses the registry and reports to t.
func WithTracker(t tracker.Tracker) Option { return func(o *options) { o.tracker = t } }

// WithTimeout bounds the report call made by Middleware and Hook.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithRepanic makes Hook.Recover re-raise the panic after reporting it.
func WithRepanic() Option { return func(o *options) { o.repanic = true } }

func (o *options) resolveTracker(creds Credentials, name string) (tracker.Tracker, error) {
	if o.tracker != nil {
		return o.tracker, nil
	}
	f, err := lookup(name)
	if err != nil {
		return nil, err
	}
	t, err := f(creds, o.settings)
	if err != nil {
		return nil, fmt.Errorf("create %s tracker: %w", name, err)
	}
	return t, nil
}

// ReportIssue files exc with the tracker registered as trackerName and returns
// the issue that now records it. It panics if exc carries no value or no frames.
func ReportIssue(ctx context.Context, creds Credentials, trackerName string, exc trace.Exception, opts ...Option) (*tracker.Issue, error) {
	o := newOptions(opts)
	t, err := o.resolveTracker(creds, trackerName)
	if err != nil {
		return nil, err
	}
	res, err := reporter.New(t, reporter.WithLogger(o.settings.Logger)).Report(ctx, exc, o.cfg)
	if err != nil {
		return nil, err
	}
	return res.Issue, nil
}

// ReportGitHubIssue is ReportIssue for GitHub.
func ReportGitHubIssue(ctx context.Context, creds Credentials, exc trace.Exception, opts ...Option) (*tracker.Issue, error) {
	return ReportIssue(ctx, creds, github.Name, exc, opts...)
}
