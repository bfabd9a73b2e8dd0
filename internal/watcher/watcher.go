// Package watcher tails an application log, detects Go panic dumps in it and
// files each one through the reporter.
package watcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/exreporter/pkg/reporter"
	"github.com/xkilldash9x/exreporter/pkg/trace"
)

// -- Regex Definitions --
var (
	newEntryRegex = regexp.MustCompile(`^(\d{4}[-/]\d{2}[-/]\d{2}|\{.*"ts":|INFO|WARN|ERROR|DEBUG|panic:|fatal error:)`)
	panicRegex    = regexp.MustCompile(`("level":"panic"|"level":"fatal"|^panic:|^fatal error:)`)
	// Frame lines in a zap stacktrace carry no argument list.
	bareFunctionRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-./\(\)\*\[\]]+$`)
)

// DefaultFlushTimeout is how long a dump may stay silent before it is filed.
const DefaultFlushTimeout = 100 * time.Millisecond

// Reporter files one parsed failure.
type Reporter interface {
	Report(ctx context.Context, exc trace.Exception, cfg reporter.Config) (*reporter.Result, error)
}

// Watcher monitors a log file for panic dumps. Each detected dump is parsed
// and reported on its own goroutine; Wait blocks until all of them finish.
type Watcher struct {
	logger       *zap.Logger
	logFile      string
	reporter     Reporter
	cfg          reporter.Config
	parser       *trace.Parser
	flushTimeout time.Duration
	fromStart    bool
	poll         bool

	wg sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithFlushTimeout overrides DefaultFlushTimeout.
func WithFlushTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.flushTimeout = d
		}
	}
}

// WithFromStart reads the file from the beginning instead of its current end.
func WithFromStart() Option {
	return func(w *Watcher) { w.fromStart = true }
}

// WithPolling detects file changes by polling instead of inotify.
func WithPolling() Option {
	return func(w *Watcher) { w.poll = true }
}

// New creates a watcher for logFile.
func New(logFile string, rep Reporter, cfg reporter.Config, opts ...Option) (*Watcher, error) {
	if logFile == "" {
		return nil, fmt.Errorf("watcher.log_file must be configured for crash detection")
	}
	w := &Watcher{
		logger:       zap.NewNop(),
		logFile:      logFile,
		reporter:     rep,
		cfg:          cfg,
		parser:       trace.NewParser(),
		flushTimeout: DefaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("watcher")
	return w, nil
}

// Start begins tailing the log file in a separate goroutine and returns an
// error if the file cannot be tailed. Monitoring stops when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting crash detection watcher...", zap.String("log_file", w.logFile))

	location := &tail.SeekInfo{Offset: 0, Whence: 2}
	if w.fromStart {
		location = &tail.SeekInfo{Offset: 0, Whence: 0}
	}
	t, err := tail.TailFile(w.logFile, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      w.poll,
		Location:  location,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail log file: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			_ = t.Stop()
			t.Cleanup()
		}()
		w.monitorLoop(ctx, t.Lines)
	}()
	return nil
}

// Wait blocks until the monitor loop and every in-flight report have returned.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// monitorLoop buffers the lines of one dump at a time. A dump ends when a new
// log entry starts, when the flush timer fires, or when the input ends.
func (w *Watcher) monitorLoop(ctx context.Context, lines <-chan *tail.Line) {
	var current []string
	timeout := time.NewTimer(w.flushTimeout)
	// Start the timer in a stopped state.
	if !timeout.Stop() {
		<-timeout.C
	}
	defer timeout.Stop()

	stopTimer := func() {
		if !timeout.Stop() {
			select {
			case <-timeout.C:
			default:
			}
		}
	}

	flush := func() {
		if len(current) == 0 {
			return
		}
		dump := make([]string, len(current))
		copy(dump, current)
		current = nil

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.handleDump(ctx, dump)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			w.logger.Info("Stopping log watcher.")
			return

		case line, ok := <-lines:
			if !ok {
				flush()
				w.logger.Info("Log file tailer channel closed.")
				return
			}
			if line.Err != nil {
				w.logger.Warn("Error reading from log file", zap.Error(line.Err))
				continue
			}

			text := line.Text
			isNewEntry := newEntryRegex.MatchString(text)
			isPanicEntry := panicRegex.MatchString(text)

			if len(current) > 0 && isNewEntry {
				flush()
				stopTimer()
			}

			switch {
			case isPanicEntry && len(current) == 0:
				current = append(current, text)
				timeout.Reset(w.flushTimeout)
			case len(current) > 0:
				current = append(current, text)
				timeout.Reset(w.flushTimeout)
			}

		case <-timeout.C:
			flush()
		}
	}
}

// handleDump parses one dump and reports it. The report runs on a context
// detached from ctx so a dump flushed during shutdown is still filed.
func (w *Watcher) handleDump(ctx context.Context, dump []string) {
	if structured, ok := fromStructured(dump[0]); ok {
		dump = structured
	}

	exc, err := w.parser.Parse(dump)
	if err != nil {
		w.logger.Error("Failed to parse panic dump.", zap.Error(err), zap.String("dump", strings.Join(dump, "\n")))
		return
	}
	w.logger.Warn("Panic detected.", zap.String("kind", exc.Kind), zap.Int("frames", len(exc.Frames)))

	res, err := w.reporter.Report(context.WithoutCancel(ctx), exc, w.cfg)
	if err != nil {
		w.logger.Error("Failed to report panic.", zap.Error(err))
		return
	}
	if res.Issue == nil {
		w.logger.Info("Panic processed.", zap.String("incident_id", res.IncidentID.String()), zap.Stringer("action", res.Action))
		return
	}
	w.logger.Info("Panic reported.",
		zap.String("incident_id", res.IncidentID.String()),
		zap.Stringer("action", res.Action),
		zap.Int("issue", res.Issue.Number),
		zap.String("url", res.Issue.HTMLURL),
	)
}

type structuredEntry struct {
	Msg        string `json:"msg"`
	Stacktrace string `json:"stacktrace"`
}

// fromStructured rewrites a JSON log entry carrying a zap stacktrace into dump
// lines the trace parser understands.
func fromStructured(line string) ([]string, bool) {
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return nil, false
	}
	var entry structuredEntry
	if err := json.UnmarshalFromString(line, &entry); err != nil || entry.Stacktrace == "" {
		return nil, false
	}

	out := []string{"panic: " + entry.Msg, "", "goroutine 1 [running]:"}
	for _, l := range strings.Split(entry.Stacktrace, "\n") {
		if bareFunctionRegex.MatchString(l) {
			l += "()"
		}
		out = append(out, l)
	}
	return out, true
}
