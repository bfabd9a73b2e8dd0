// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/exreporter/internal/config"
	"github.com/xkilldash9x/exreporter/pkg/reporter"
	"github.com/xkilldash9x/exreporter/pkg/trace"
	"github.com/xkilldash9x/exreporter/pkg/tracker"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) GitHub() config.GitHubConfig {
	args := m.Called()
	return args.Get(0).(config.GitHubConfig)
}

func (m *MockConfig) Reporter() config.ReporterConfig {
	args := m.Called()
	return args.Get(0).(config.ReporterConfig)
}

func (m *MockConfig) Watcher() config.WatcherConfig {
	args := m.Called()
	return args.Get(0).(config.WatcherConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

func (m *MockConfig) SetWatcherLogFile(path string) {
	m.Called(path)
}

func (m *MockConfig) SetMetricsListenAddr(addr string) {
	m.Called(addr)
}

// -- Tracker Mock --

// MockTracker mocks the tracker.Tracker interface.
type MockTracker struct {
	mock.Mock
}

var _ tracker.Tracker = (*MockTracker)(nil)

func (m *MockTracker) Search(ctx context.Context, q tracker.Query) ([]tracker.Issue, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tracker.Issue), args.Error(1)
}

func (m *MockTracker) Create(ctx context.Context, in tracker.NewIssue) (*tracker.Issue, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tracker.Issue), args.Error(1)
}

func (m *MockTracker) Comment(ctx context.Context, issue *tracker.Issue, body string) (*tracker.Issue, error) {
	args := m.Called(ctx, issue, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tracker.Issue), args.Error(1)
}

func (m *MockTracker) Reopen(ctx context.Context, issue *tracker.Issue) (*tracker.Issue, error) {
	args := m.Called(ctx, issue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tracker.Issue), args.Error(1)
}

// -- Reporter Mock --

// MockReporter mocks the single-method reporting contract used by the watcher
// and the CLI.
type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Report(ctx context.Context, exc trace.Exception, cfg reporter.Config) (*reporter.Result, error) {
	args := m.Called(ctx, exc, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reporter.Result), args.Error(1)
}

// -- Watcher Mock --

// MockWatcher mocks a long-running log watcher.
type MockWatcher struct {
	mock.Mock
}

func (m *MockWatcher) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockWatcher) Wait() {
	m.Called()
}
