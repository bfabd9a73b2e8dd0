// File: cmd/root_test.go
package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/exreporter/internal/config"
	"github.com/xkilldash9x/exreporter/internal/mocks"
	"github.com/xkilldash9x/exreporter/pkg/tracker"
)

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(context.Background(), NewRootCommand(), "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "exreporter version "+Version)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(context.Background(), NewRootCommand(), "version")
	require.NoError(t, err)
	assert.Equal(t, "exreporter version "+Version+"\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	out, err := executeCommand(context.Background(), NewRootCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "exreporter files Go panics as deduplicated GitHub issues.")
	assert.Contains(t, out, "report")
	assert.Contains(t, out, "watch")
}

func TestRootCmd_ConfigFileAndEnvironment(t *testing.T) {
	configFile := writeFile(t, "config.yaml", `
github:
  owner: acme
  repo: billing
reporter:
  labels: [crash]
  include_locals: false
`)
	t.Setenv("EXREPORTER_GITHUB_TOKEN", "from-env")
	panicLog := writeFile(t, "panic.log", samplePanic)

	tr := new(mocks.MockTracker)
	tr.On("Search", mock.Anything, mock.MatchedBy(func(q tracker.Query) bool {
		return len(q.Labels) == 1 && q.Labels[0] == "crash"
	})).Return(nil, nil).Once()
	tr.On("Create", mock.Anything, mock.Anything).Return(&tracker.Issue{Number: 3}, nil).Once()
	provider := &fakeTrackerProvider{tracker: tr}

	root := newRootCmd(provider, newCrashWatcher)
	_, err := executeCommand(context.Background(), root, "--config", configFile, "report", "--panic-log", panicLog)
	require.NoError(t, err)

	require.Equal(t, 1, provider.Calls())
	gh := provider.cfg.GitHub()
	assert.Equal(t, "acme", gh.Owner)
	assert.Equal(t, "billing", gh.Repo)
	assert.Equal(t, "from-env", gh.Token)
	assert.False(t, provider.cfg.Reporter().IncludeLocals)
	tr.AssertExpectations(t)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	configFile := writeFile(t, "config.yaml", "logger:\n  format: xml\n")
	panicLog := writeFile(t, "panic.log", samplePanic)

	provider := &fakeTrackerProvider{}
	_, err := executeCommand(context.Background(), newRootCmd(provider, newCrashWatcher),
		"--config", configFile, "report", "--panic-log", panicLog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load or validate config")
	assert.Zero(t, provider.Calls())
}

func TestRootCmd_UnreadableConfig(t *testing.T) {
	configFile := writeFile(t, "config.yaml", "github: [unterminated\n")
	_, err := executeCommand(context.Background(), newRootCmd(&fakeTrackerProvider{}, newCrashWatcher),
		"--config", configFile, "report", "--panic-log", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
