package exreporter

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/exreporter/pkg/reporter"
	"github.com/xkilldash9x/exreporter/pkg/trace"
)

// DefaultTimeout bounds a report made from Middleware or Hook.
const DefaultTimeout = 30 * time.Second

// Reporter files one failure.
type Reporter interface {
	Report(ctx context.Context, exc trace.Exception, cfg reporter.Config) (*reporter.Result, error)
}

// guard holds what Middleware and Hook share.
type guard struct {
	reporter Reporter
	cfg      reporter.Config
	logger   *zap.Logger
	timeout  time.Duration
}

func newGuard(creds Credentials, trackerName string, opts []Option) (guard, error) {
	o := newOptions(opts)
	t, err := o.resolveTracker(creds, trackerName)
	if err != nil {
		return guard{}, err
	}
	return guard{
		reporter: reporter.New(t, reporter.WithLogger(o.settings.Logger), reporter.WithCoalescing()),
		cfg:      o.cfg,
		logger:   o.settings.Logger,
		timeout:  o.timeout,
	}, nil
}

// file reports a recovered value. Failures are logged, never raised, so the
// original panic handling always proceeds.
func (g guard) file(ctx context.Context, recovered any, cfg reporter.Config) {
	exc := trace.Capture(recovered, 0)
	if len(exc.Frames) == 0 {
		g.logger.Error("Recovered panic has no stack to report.", zap.Any("panic", recovered))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	res, err := g.reporter.Report(ctx, exc, cfg)
	if err != nil {
		g.logger.Error("Failed to report panic.", zap.Error(err), zap.Any("panic", recovered))
		return
	}
	fields := []zap.Field{zap.String("incident_id", res.IncidentID.String()), zap.Stringer("action", res.Action)}
	if res.Issue != nil {
		fields = append(fields, zap.Int("issue", res.Issue.Number), zap.String("url", res.Issue.HTMLURL))
	}
	g.logger.Warn("Reported panic.", fields...)
}

// Middleware recovers handler panics, reports them with the request attached,
// and answers 500.
type Middleware struct {
	guard
}

// NewMiddleware builds a Middleware reporting to trackerName.
func NewMiddleware(creds Credentials, trackerName string, opts ...Option) (*Middleware, error) {
	g, err := newGuard(creds, trackerName, opts)
	if err != nil {
		return nil, err
	}
	return &Middleware{guard: g}, nil
}

// NewMiddlewareWith builds a Middleware around an existing Reporter.
func NewMiddlewareWith(rep Reporter, opts ...Option) *Middleware {
	o := newOptions(opts)
	return &Middleware{guard: guard{reporter: rep, cfg: o.cfg, logger: o.settings.Logger, timeout: o.timeout}}
}

// Handler wraps next. http.ErrAbortHandler is re-raised untouched. The 500 is
// only sent when next has not started the response.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			cfg := m.cfg
			cfg.Labels = append([]string(nil), m.cfg.Labels...)
			cfg.Request = r
			if id := middleware.GetReqID(r.Context()); id != "" {
				if cfg.ExtraContent != "" {
					cfg.ExtraContent += "\n"
				}
				cfg.ExtraContent += "Request ID: " + id
			}
			m.file(r.Context(), rec, cfg)

			if r.Header.Get("Connection") != "Upgrade" && ww.Status() == 0 && ww.BytesWritten() == 0 {
				http.Error(ww, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(ww, r)
	})
}

// Hook guards goroutines: `defer hook.Recover()`.
type Hook struct {
	guard
	repanic bool
}

// NewHook builds a Hook reporting to trackerName.
func NewHook(creds Credentials, trackerName string, opts ...Option) (*Hook, error) {
	g, err := newGuard(creds, trackerName, opts)
	if err != nil {
		return nil, err
	}
	return &Hook{guard: g, repanic: newOptions(opts).repanic}, nil
}

// NewHookWith builds a Hook around an existing Reporter.
func NewHookWith(rep Reporter, opts ...Option) *Hook {
	o := newOptions(opts)
	return &Hook{
		guard:   guard{reporter: rep, cfg: o.cfg, logger: o.settings.Logger, timeout: o.timeout},
		repanic: o.repanic,
	}
}

// Recover must be deferred directly. It reports a panic in progress and, with
// WithRepanic, raises it again.
func (h *Hook) Recover() {
	rec := recover()
	if rec == nil {
		return
	}
	cfg := h.cfg
	cfg.Labels = append([]string(nil), h.cfg.Labels...)
	h.file(context.Background(), rec, cfg)
	if h.repanic {
		panic(rec)
	}
}
