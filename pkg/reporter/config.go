package reporter

import (
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/exreporter/pkg/aggregate"
	"github.com/xkilldash9x/exreporter/pkg/format"
	"github.com/xkilldash9x/exreporter/pkg/trace"
	"github.com/xkilldash9x/exreporter/pkg/tracker"
)

// ErrInvalidConfig marks a Config that cannot drive a report.
var ErrInvalidConfig = errors.New("invalid reporter configuration")

// DefaultLabels is the label set applied when none is configured.
func DefaultLabels() []string { return []string{"Bug"} }

// Config is the per-call reporting configuration.
type Config struct {
	MaxComments       int
	FreshnessInterval time.Duration
	OnFresh           aggregate.FreshBehavior

	IncludeLocals bool
	// Labels filter the search and are applied to created issues.
	Labels       []string
	Templates    format.Templates
	ExtraContent string
	// Request is attached to the body when non-nil.
	Request any

	// SearchStates limits candidate issues by state.
	SearchStates []tracker.State
	Classifier   trace.Classifier
	// ProjectRoot, when set, is stripped from absolute frame paths before extraction.
	ProjectRoot string
}

// DefaultConfig returns the defaults. Each call returns fresh slices.
func DefaultConfig() Config {
	return Config{
		MaxComments:       aggregate.DefaultMaxComments,
		FreshnessInterval: aggregate.DefaultFreshnessInterval,
		OnFresh:           aggregate.FreshSkip,
		IncludeLocals:     true,
		Labels:            DefaultLabels(),
		Templates:         format.DefaultTemplates,
		SearchStates:      []tracker.State{tracker.StateOpen, tracker.StateClosed},
	}
}

// Policy returns the aggregation thresholds of c.
func (c Config) Policy() aggregate.Policy {
	return aggregate.Policy{
		MaxComments:       c.MaxComments,
		FreshnessInterval: c.FreshnessInterval,
		OnFresh:           c.OnFresh,
	}
}

// Validate checks thresholds and search states.
func (c Config) Validate() error {
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for _, s := range c.SearchStates {
		if s != tracker.StateOpen && s != tracker.StateClosed {
			return fmt.Errorf("%w: unknown search state %q", ErrInvalidConfig, s)
		}
	}
	return nil
}

func (c Config) query(culprit string) tracker.Query {
	return tracker.Query{
		Text:   culprit,
		States: append([]tracker.State(nil), c.SearchStates...),
		Labels: append([]string(nil), c.Labels...),
	}
}

func (c Config) extras() format.Extras {
	return format.Extras{
		IncludeLocals: c.IncludeLocals,
		ExtraContent:  c.ExtraContent,
		Request:       c.Request,
	}
}
