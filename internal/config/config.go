// File: internal/config/config.go
package config

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/exreporter/pkg/aggregate"
	"github.com/xkilldash9x/exreporter/pkg/format"
	"github.com/xkilldash9x/exreporter/pkg/reporter"
	"github.com/xkilldash9x/exreporter/pkg/trace"
	"github.com/xkilldash9x/exreporter/pkg/tracker"
)

// TokenEnvVar is the environment variable holding the GitHub access token.
const TokenEnvVar = "EXREPORTER_GITHUB_TOKEN"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	GitHub() GitHubConfig
	Reporter() ReporterConfig
	Watcher() WatcherConfig
	Metrics() MetricsConfig

	SetWatcherLogFile(path string)
	SetMetricsListenAddr(addr string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	GitHubCfg   GitHubConfig   `mapstructure:"github" yaml:"github"`
	ReporterCfg ReporterConfig `mapstructure:"reporter" yaml:"reporter"`
	WatcherCfg  WatcherConfig  `mapstructure:"watcher" yaml:"watcher"`
	MetricsCfg  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

// --- Getters ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) GitHub() GitHubConfig     { return c.GitHubCfg }
func (c *Config) Reporter() ReporterConfig { return c.ReporterCfg }
func (c *Config) Watcher() WatcherConfig   { return c.WatcherCfg }
func (c *Config) Metrics() MetricsConfig   { return c.MetricsCfg }

// --- Setters ---

// Flags given on the command line override the file.
func (c *Config) SetWatcherLogFile(path string)    { c.WatcherCfg.LogFile = path }
func (c *Config) SetMetricsListenAddr(addr string) { c.MetricsCfg.ListenAddr = addr }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// GitHubConfig defines the repository issues are filed in.
type GitHubConfig struct {
	Token string `mapstructure:"token" yaml:"-"`
	Owner string `mapstructure:"owner" yaml:"owner"`
	Repo  string `mapstructure:"repo" yaml:"repo"`
	// BaseURL targets a GitHub Enterprise API root. Empty means api.github.com.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// RequestsPerSecond caps API calls. Zero disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// Credentials returns the tracker credential triple.
func (g GitHubConfig) Credentials() tracker.Credentials {
	return tracker.Credentials{Owner: g.Owner, Repo: g.Repo, Token: g.Token}
}

// Validate checks what is needed to talk to GitHub. Commands that never reach
// the API skip it.
func (g GitHubConfig) Validate() error {
	if g.Owner == "" || g.Repo == "" {
		return fmt.Errorf("github.owner and github.repo are required")
	}
	if g.Token == "" {
		return fmt.Errorf("GitHub token is required but not found. Ensure %s is set", TokenEnvVar)
	}
	if g.RequestsPerSecond < 0 {
		return fmt.Errorf("github.requests_per_second must not be negative")
	}
	if g.RequestsPerSecond > 0 && g.Burst <= 0 {
		return fmt.Errorf("github.burst must be positive when rate limiting is enabled")
	}
	return nil
}

// ReporterConfig tunes extraction, formatting and aggregation.
type ReporterConfig struct {
	MaxComments int `mapstructure:"max_comments" yaml:"max_comments"`
	// FreshnessInterval accepts a duration string ("90s") or a bare number of seconds.
	FreshnessInterval time.Duration `mapstructure:"freshness_interval" yaml:"freshness_interval"`
	IncludeLocals     bool          `mapstructure:"include_locals" yaml:"include_locals"`
	Labels            []string      `mapstructure:"labels" yaml:"labels"`
	OnFresh           string        `mapstructure:"on_fresh" yaml:"on_fresh"`
	Fallback          string        `mapstructure:"fallback" yaml:"fallback"`
	ExtraContent      string        `mapstructure:"extra_content" yaml:"extra_content"`
	AppPackages       []string      `mapstructure:"app_packages" yaml:"app_packages"`
	ProjectRoot       string        `mapstructure:"project_root" yaml:"project_root"`
	Coalesce          bool          `mapstructure:"coalesce" yaml:"coalesce"`
	// IncludeRevision appends the git commit of ProjectRoot (or the working
	// directory) to the extra content of CLI reports.
	IncludeRevision bool             `mapstructure:"include_revision" yaml:"include_revision"`
	Templates       format.Templates `mapstructure:"templates" yaml:"templates"`
}

// ToReporter converts the section into a reporter.Config.
func (r ReporterConfig) ToReporter() (reporter.Config, error) {
	onFresh, err := aggregate.ParseFreshBehavior(r.OnFresh)
	if err != nil {
		return reporter.Config{}, err
	}
	cfg := reporter.DefaultConfig()
	cfg.MaxComments = r.MaxComments
	cfg.FreshnessInterval = r.FreshnessInterval
	cfg.OnFresh = onFresh
	cfg.IncludeLocals = r.IncludeLocals
	if r.Labels != nil {
		cfg.Labels = append([]string(nil), r.Labels...)
	}
	cfg.Templates = r.Templates
	cfg.ExtraContent = r.ExtraContent
	cfg.ProjectRoot = r.ProjectRoot
	cfg.Classifier = trace.Classifier{
		AppPackages: append([]string(nil), r.AppPackages...),
		Fallback:    trace.ParseFallback(r.Fallback),
	}
	return cfg, nil
}

// WatcherConfig configures the panic log tailer.
type WatcherConfig struct {
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
	// FlushTimeout is how long a dump may stay silent before it is considered complete.
	FlushTimeout time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout"`
}

// MetricsConfig configures the Prometheus endpoint of long-running commands.
type MetricsConfig struct {
	// ListenAddr is empty to disable the endpoint.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "exreporter")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- GitHub --
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.requests_per_second", 0.0)
	v.SetDefault("github.burst", 1)

	// -- Reporter --
	v.SetDefault("reporter.max_comments", aggregate.DefaultMaxComments)
	v.SetDefault("reporter.freshness_interval", aggregate.DefaultFreshnessInterval.String())
	v.SetDefault("reporter.include_locals", true)
	v.SetDefault("reporter.labels", reporter.DefaultLabels())
	v.SetDefault("reporter.on_fresh", aggregate.FreshSkip.String())
	v.SetDefault("reporter.fallback", trace.FallbackOutermost.String())
	v.SetDefault("reporter.coalesce", false)
	v.SetDefault("reporter.include_revision", false)
	v.SetDefault("reporter.templates.culprit", format.DefaultTemplates.Culprit)
	v.SetDefault("reporter.templates.title", format.DefaultTemplates.Title)
	v.SetDefault("reporter.templates.body", format.DefaultTemplates.Body)
	v.SetDefault("reporter.templates.locals", format.DefaultTemplates.Locals)
	v.SetDefault("reporter.templates.request", format.DefaultTemplates.Request)

	// -- Watcher --
	v.SetDefault("watcher.log_file", "panic.log")
	v.SetDefault("watcher.flush_timeout", "100ms")

	// -- Metrics --
	v.SetDefault("metrics.listen_addr", "")
}

// decodeHook extends viper's default hooks so that durations given as bare
// numbers, from YAML or the environment, are read as seconds.
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

var durationType = reflect.TypeOf(time.Duration(0))

func secondsToDurationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	var seconds float64
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		seconds = float64(reflect.ValueOf(data).Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		seconds = float64(reflect.ValueOf(data).Uint())
	case reflect.Float32, reflect.Float64:
		seconds = reflect.ValueOf(data).Float()
	case reflect.String:
		n, err := strconv.ParseFloat(strings.TrimSpace(reflect.ValueOf(data).String()), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			// Not a bare number; left to the duration string hook.
			return data, nil
		}
		seconds = n
	default:
		return data, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("github.token", TokenEnvVar, "GITHUB_TOKEN")

	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for _, p := range []*string{&cfg.LoggerCfg.LogFile, &cfg.WatcherCfg.LogFile, &cfg.ReporterCfg.ProjectRoot} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("error expanding path %q: %w", *p, err)
		}
		*p = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// GitHub credentials are checked separately by GitHubConfig.Validate.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LoggerCfg.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.LoggerCfg.Format)
	}
	if err := c.ReporterCfg.Validate(); err != nil {
		return fmt.Errorf("reporter configuration invalid: %w", err)
	}
	if c.WatcherCfg.FlushTimeout <= 0 {
		return fmt.Errorf("watcher.flush_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the reporter section.
func (r *ReporterConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(r.Fallback)) {
	case "", "outermost", "innermost":
	default:
		return fmt.Errorf("fallback must be outermost or innermost, got %q", r.Fallback)
	}
	cfg, err := r.ToReporter()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := format.New(cfg.Templates); err != nil {
		return err
	}
	return nil
}
