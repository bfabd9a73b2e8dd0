// Package aggregate decides whether a new failure report attaches to an existing
// tracked issue as a comment or opens a new one.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/exreporter/pkg/tracker"
)

// ErrInvalidPolicy is returned by Validate for unusable thresholds.
var ErrInvalidPolicy = errors.New("invalid aggregation policy")

// Action is the outcome of a decision.
type Action int

const (
	ActionCreate Action = iota
	ActionComment
	// ActionSkip leaves the existing issue untouched.
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionComment:
		return "comment"
	case ActionSkip:
		return "skip"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// FreshBehavior resolves a candidate updated within the freshness interval.
type FreshBehavior int

const (
	// FreshSkip does nothing and hands back the existing issue.
	FreshSkip FreshBehavior = iota
	// FreshCreate opens a new issue.
	FreshCreate
	// FreshComment ignores the interval and applies the comment ceiling rule.
	FreshComment
)

// ParseFreshBehavior maps "skip", "create" or "comment" to a FreshBehavior.
func ParseFreshBehavior(s string) (FreshBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return FreshSkip, nil
	case "create":
		return FreshCreate, nil
	case "comment":
		return FreshComment, nil
	default:
		return FreshSkip, fmt.Errorf("%w: unknown fresh behavior %q", ErrInvalidPolicy, s)
	}
}

func (b FreshBehavior) String() string {
	switch b {
	case FreshCreate:
		return "create"
	case FreshComment:
		return "comment"
	default:
		return "skip"
	}
}

// Defaults.
const (
	DefaultMaxComments       = 50
	DefaultFreshnessInterval = 10 * time.Second
)

// Policy holds the aggregation thresholds.
type Policy struct {
	// MaxComments is the comment count at which an issue is retired.
	MaxComments int
	// FreshnessInterval is the minimum time since the last update before an issue
	// may be reused.
	FreshnessInterval time.Duration
	OnFresh           FreshBehavior
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{MaxComments: DefaultMaxComments, FreshnessInterval: DefaultFreshnessInterval}
}

// Validate checks the thresholds.
func (p Policy) Validate() error {
	if p.MaxComments <= 0 {
		return fmt.Errorf("%w: max comments must be positive, got %d", ErrInvalidPolicy, p.MaxComments)
	}
	if p.FreshnessInterval < 0 {
		return fmt.Errorf("%w: freshness interval must not be negative, got %s", ErrInvalidPolicy, p.FreshnessInterval)
	}
	if p.OnFresh < FreshSkip || p.OnFresh > FreshComment {
		return fmt.Errorf("%w: unknown fresh behavior %d", ErrInvalidPolicy, int(p.OnFresh))
	}
	return nil
}

// Decision is what to do with a report. Issue is the candidate acted on; it is
// nil for ActionCreate.
type Decision struct {
	Action Action
	Issue  *tracker.Issue
	// Reopen is set when commenting on a closed issue.
	Reopen bool
}

// Decide picks an action given the search results for a culprit key. candidates
// must already be ordered most recently updated first.
func (p Policy) Decide(candidates []tracker.Issue, now time.Time) Decision {
	if len(candidates) == 0 {
		return Decision{Action: ActionCreate}
	}

	latest := candidates[0]
	if now.Sub(latest.UpdatedAt) <= p.FreshnessInterval {
		switch p.OnFresh {
		case FreshCreate:
			return Decision{Action: ActionCreate}
		case FreshComment:
		default:
			return Decision{Action: ActionSkip, Issue: &latest}
		}
	}

	if latest.Comments < p.MaxComments {
		return Decision{Action: ActionComment, Issue: &latest, Reopen: latest.Closed()}
	}
	return Decision{Action: ActionCreate}
}
