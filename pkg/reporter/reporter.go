// Package reporter ties extraction, formatting, aggregation and the tracker together:
// one call turns a captured failure into a created or updated issue.
package reporter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/exreporter/pkg/aggregate"
	"github.com/xkilldash9x/exreporter/pkg/format"
	"github.com/xkilldash9x/exreporter/pkg/trace"
	"github.com/xkilldash9x/exreporter/pkg/tracker"
)

// Recorder observes finished reports. err is nil on success.
type Recorder interface {
	ObserveReport(action aggregate.Action, elapsed time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReport(aggregate.Action, time.Duration, error) {}

// Result describes what a report did.
type Result struct {
	// Issue is the created, commented or skipped issue.
	Issue  *tracker.Issue
	Action aggregate.Action
	// IncidentID correlates log lines of one report. It never appears in Content.
	IncidentID uuid.UUID
	Content    format.Content
	// Shared is set when a concurrent report for the same culprit did the work.
	Shared bool
}

// Reporter files failures with a Tracker. It holds no state between reports.
type Reporter struct {
	tracker  tracker.Tracker
	logger   *zap.Logger
	now      func() time.Time
	recorder Recorder

	coalesce bool
	group    singleflight.Group
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// WithRecorder sets the metrics hook.
func WithRecorder(rec Recorder) Option {
	return func(r *Reporter) { r.recorder = rec }
}

// WithCoalescing makes concurrent reports with the same culprit key share one
// search-then-act sequence within this process.
func WithCoalescing() Option {
	return func(r *Reporter) { r.coalesce = true }
}

// New creates a Reporter on top of t.
func New(t tracker.Tracker, opts ...Option) *Reporter {
	r := &Reporter{
		tracker:  t,
		logger:   zap.NewNop(),
		now:      time.Now,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("reporter")
	return r
}

// Render extracts and formats exc without talking to the tracker.
// It panics if exc has no value or no frames.
func Render(exc trace.Exception, cfg Config) (*trace.Summary, format.Content, error) {
	f, err := format.New(cfg.Templates)
	if err != nil {
		return nil, format.Content{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.ProjectRoot != "" {
		exc = exc.Relativize(cfg.ProjectRoot)
	}
	summary := trace.Extract(exc, cfg.Classifier)
	content, err := f.Format(summary, cfg.extras())
	if err != nil {
		return nil, format.Content{}, fmt.Errorf("format report: %w", err)
	}
	return summary, content, nil
}

// Report files exc: it searches for an issue carrying the same culprit key and
// either comments on it, leaves it alone, or creates a new one. It panics if exc
// has no value or no frames.
func (r *Reporter) Report(ctx context.Context, exc trace.Exception, cfg Config) (*Result, error) {
	start := r.now()
	if err := cfg.Validate(); err != nil {
		r.recorder.ObserveReport(aggregate.ActionSkip, 0, err)
		return nil, err
	}

	summary, content, err := Render(exc, cfg)
	if err != nil {
		r.recorder.ObserveReport(aggregate.ActionSkip, 0, err)
		return nil, err
	}

	id := uuid.New()
	logger := r.logger.With(zap.String("incident_id", id.String()), zap.String("culprit", content.Culprit))
	logger.Debug("Reporting failure.",
		zap.String("kind", summary.Kind),
		zap.String("file", summary.Culprit.File),
		zap.Int("line", summary.Culprit.Line),
	)

	var res *Result
	if r.coalesce {
		v, err, shared := r.group.Do(content.Culprit, func() (any, error) {
			return r.file(ctx, logger, content, cfg)
		})
		if err != nil {
			r.recorder.ObserveReport(aggregate.ActionSkip, r.now().Sub(start), err)
			return nil, err
		}
		out := *v.(*Result)
		out.Shared = shared
		res = &out
	} else {
		res, err = r.file(ctx, logger, content, cfg)
		if err != nil {
			r.recorder.ObserveReport(aggregate.ActionSkip, r.now().Sub(start), err)
			return nil, err
		}
	}
	res.IncidentID = id

	r.recorder.ObserveReport(res.Action, r.now().Sub(start), nil)
	return res, nil
}

func (r *Reporter) file(ctx context.Context, logger *zap.Logger, content format.Content, cfg Config) (*Result, error) {
	candidates, err := r.tracker.Search(ctx, cfg.query(content.Culprit))
	if err != nil {
		logger.Error("Issue search failed.", zap.Error(err))
		return nil, fmt.Errorf("search: %w", err)
	}

	decision := cfg.Policy().Decide(candidates, r.now())
	res := &Result{Action: decision.Action, Content: content}

	switch decision.Action {
	case aggregate.ActionSkip:
		logger.Info("Existing issue was updated within the freshness interval, leaving it untouched.",
			zap.Int("issue", decision.Issue.Number))
		res.Issue = decision.Issue

	case aggregate.ActionComment:
		issue, err := r.tracker.Comment(ctx, decision.Issue, content.Body)
		if err != nil {
			logger.Error("Commenting on existing issue failed.", zap.Int("issue", decision.Issue.Number), zap.Error(err))
			return nil, fmt.Errorf("comment: %w", err)
		}
		logger.Info("Commented on existing issue.",
			zap.Int("issue", issue.Number),
			zap.Bool("reopened", decision.Reopen),
		)
		res.Issue = issue

	default:
		issue, err := r.tracker.Create(ctx, tracker.NewIssue{
			Title:  content.Title,
			Body:   content.Body,
			Labels: append([]string(nil), cfg.Labels...),
		})
		if err != nil {
			logger.Error("Creating issue failed.", zap.Error(err))
			return nil, fmt.Errorf("create: %w", err)
		}
		logger.Info("Created issue.", zap.Int("issue", issue.Number), zap.String("url", issue.HTMLURL))
		res.Issue = issue
	}
	return res, nil
}
