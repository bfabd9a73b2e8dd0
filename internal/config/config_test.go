// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/exreporter/pkg/aggregate"
	"github.com/xkilldash9x/exreporter/pkg/format"
	"github.com/xkilldash9x/exreporter/pkg/trace"
	"github.com/xkilldash9x/exreporter/pkg/tracker"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "console", cfg.Logger().Format)
	assert.Equal(t, 50, cfg.Reporter().MaxComments)
	assert.Equal(t, 10*time.Second, cfg.Reporter().FreshnessInterval)
	assert.True(t, cfg.Reporter().IncludeLocals)
	assert.Equal(t, []string{"Bug"}, cfg.Reporter().Labels)
	assert.Equal(t, "skip", cfg.Reporter().OnFresh)
	assert.Equal(t, format.DefaultTemplates, cfg.Reporter().Templates)
	assert.Equal(t, 100*time.Millisecond, cfg.Watcher().FlushTimeout)
	assert.Empty(t, cfg.Metrics().ListenAddr)

	require.NoError(t, cfg.Validate())
}

func TestReporterConfig_ToReporter(t *testing.T) {
	rc := NewDefaultConfig().Reporter()
	rc.OnFresh = "comment"
	rc.Fallback = "innermost"
	rc.AppPackages = []string{"example.com/app"}

	cfg, err := rc.ToReporter()
	require.NoError(t, err)
	assert.Equal(t, aggregate.FreshComment, cfg.OnFresh)
	assert.Equal(t, trace.FallbackInnermost, cfg.Classifier.Fallback)
	assert.Equal(t, []string{"example.com/app"}, cfg.Classifier.AppPackages)
	assert.Equal(t, []tracker.State{tracker.StateOpen, tracker.StateClosed}, cfg.SearchStates)

	cfg.Labels[0] = "mutated"
	assert.Equal(t, "Bug", rc.Labels[0], "labels must be copied")

	rc.OnFresh = "eventually"
	_, err = rc.ToReporter()
	assert.ErrorIs(t, err, aggregate.ErrInvalidPolicy)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate())

		badFormat := *cfg
		badFormat.LoggerCfg.Format = "xml"
		err := badFormat.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger.format")

		badFlush := *cfg
		badFlush.WatcherCfg.FlushTimeout = 0
		err = badFlush.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "watcher.flush_timeout must be a positive duration")
	})

	t.Run("Reporter Validation", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(*ReporterConfig)
			want   string
		}{
			{"zero max comments", func(r *ReporterConfig) { r.MaxComments = 0 }, "max comments must be positive"},
			{"negative interval", func(r *ReporterConfig) { r.FreshnessInterval = -time.Second }, "freshness interval"},
			{"unknown fresh behavior", func(r *ReporterConfig) { r.OnFresh = "later" }, "unknown fresh behavior"},
			{"unknown fallback", func(r *ReporterConfig) { r.Fallback = "middle" }, "fallback must be"},
			{"bad template", func(r *ReporterConfig) { r.Templates.Title = "{{.stack_trace}}" }, "unknown placeholder"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				cfg := NewDefaultConfig()
				tt.mutate(&cfg.ReporterCfg)
				err := cfg.Validate()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.want)
			})
		}
	})

	t.Run("GitHub Validation", func(t *testing.T) {
		valid := GitHubConfig{Token: "ghp_testtoken123", Owner: "test-owner", Repo: "test-repo"}
		assert.NoError(t, valid.Validate())

		noRepo := valid
		noRepo.Repo = ""
		assert.ErrorContains(t, noRepo.Validate(), "github.owner and github.repo are required")

		noToken := valid
		noToken.Token = ""
		assert.ErrorContains(t, noToken.Validate(), TokenEnvVar)

		noBurst := valid
		noBurst.RequestsPerSecond = 2
		noBurst.Burst = 0
		assert.ErrorContains(t, noBurst.Validate(), "github.burst")

		assert.Equal(t, tracker.Credentials{Owner: "test-owner", Repo: "test-repo", Token: "ghp_testtoken123"}, valid.Credentials())
	})
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("watcher.flush_timeout", "0s")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
github:
  owner: acme
  repo: api
  token: from-file
`)))

		t.Setenv(TokenEnvVar, "ghp_env_var_token_456")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "ghp_env_var_token_456", cfg.GitHub().Token)
		assert.Equal(t, "acme", cfg.GitHub().Owner)
	})

	t.Run("Bare Durations Are Seconds", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
reporter:
  freshness_interval: 10
watcher:
  flush_timeout: 0.5
`)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, cfg.Reporter().FreshnessInterval)
		assert.Equal(t, 500*time.Millisecond, cfg.Watcher().FlushTimeout)
	})

	t.Run("Bare Duration From Environment", func(t *testing.T) {
		t.Setenv("EXREPORTER_REPORTER_FRESHNESS_INTERVAL", "45")
		v := viper.New()
		SetDefaults(v)
		v.SetEnvPrefix("EXREPORTER")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 45*time.Second, cfg.Reporter().FreshnessInterval)
	})

	t.Run("Duration Strings Keep Their Unit", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("reporter.freshness_interval", "2m")
		v.Set("watcher.flush_timeout", 3*time.Second)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Minute, cfg.Reporter().FreshnessInterval)
		assert.Equal(t, 3*time.Second, cfg.Watcher().FlushTimeout)
	})

	t.Run("Home Expansion", func(t *testing.T) {
		home, err := homedir.Dir()
		if err != nil {
			t.Skip("no home directory available")
		}
		v := viper.New()
		SetDefaults(v)
		v.Set("watcher.log_file", "~/app/panic.log")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "app", "panic.log"), cfg.Watcher().LogFile)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/app.log
reporter:
  max_comments: 20
  freshness_interval: 1m
  labels: ["crash", "prod"]
  templates:
    title: "[crash] {{.exception}}"
watcher:
  flush_timeout: 250ms
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/app.log", cfg.Logger().LogFile)
	assert.Equal(t, 20, cfg.Reporter().MaxComments)
	assert.Equal(t, time.Minute, cfg.Reporter().FreshnessInterval)
	assert.Equal(t, []string{"crash", "prod"}, cfg.Reporter().Labels)
	assert.Equal(t, "[crash] {{.exception}}", cfg.Reporter().Templates.Title)
	assert.Equal(t, format.DefaultTemplates.Body, cfg.Reporter().Templates.Body)
	assert.Equal(t, 250*time.Millisecond, cfg.Watcher().FlushTimeout)
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetWatcherLogFile("/tmp/crash.log")
	cfg.SetMetricsListenAddr(":9090")
	assert.Equal(t, "/tmp/crash.log", cfg.Watcher().LogFile)
	assert.Equal(t, ":9090", cfg.Metrics().ListenAddr)
}
