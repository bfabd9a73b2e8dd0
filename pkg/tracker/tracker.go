// Package tracker defines the capability interface the reporter needs from an
// issue tracker, independent of any concrete service.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCommunication marks every failure to talk to the tracker, including
// unexpected status codes. Callers match it with errors.Is.
var ErrCommunication = errors.New("issue tracker communication failed")

// State of a tracked issue.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Issue is the tracker-side record of a reported failure. It is populated by an
// explicit mapping from the tracker's response; unknown fields are dropped.
type Issue struct {
	Number    int
	Title     string
	State     State
	Comments  int
	UpdatedAt time.Time
	Labels    []string
	// HTMLURL identifies the issue to humans.
	HTMLURL string
	// URL is the API self locator.
	URL string
	// CommentsURL locates the comments sub-resource.
	CommentsURL string
}

// Closed reports whether the issue is closed.
func (i *Issue) Closed() bool { return i.State == StateClosed }

// Credentials identify the repository reports go to and authorize the calls.
type Credentials struct {
	// Owner is the account or organization that owns the repository.
	Owner string `mapstructure:"owner" yaml:"owner"`
	Repo  string `mapstructure:"repo" yaml:"repo"`
	Token string `mapstructure:"token" yaml:"-"`
}

// Validate checks that every part of the triple is present.
func (c Credentials) Validate() error {
	if c.Owner == "" || c.Repo == "" {
		return errors.New("credentials require both owner and repo")
	}
	if c.Token == "" {
		return errors.New("credentials require an access token")
	}
	return nil
}

// Query selects candidate issues. Text is matched against issue bodies.
type Query struct {
	Text   string
	States []State
	Labels []string
}

// NewIssue is the payload for Create.
type NewIssue struct {
	Title  string
	Body   string
	Labels []string
}

// Tracker is implemented by issue tracker bindings. Every mutating call treats
// any non-success response as a hard failure.
type Tracker interface {
	// Search returns matching issues, most recently updated first.
	Search(ctx context.Context, q Query) ([]Issue, error)
	Create(ctx context.Context, in NewIssue) (*Issue, error)
	// Comment appends body to issue, reopening it first if it is closed.
	Comment(ctx context.Context, issue *Issue, body string) (*Issue, error)
	Reopen(ctx context.Context, issue *Issue) (*Issue, error)
}

// StatusError reports a tracker response whose status was not the single
// success code expected for the operation.
type StatusError struct {
	Op   string
	Want int
	Got  int
	Err  error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("tracker %s: expected status %d, got %d", e.Op, e.Want, e.Got)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying transport error, if any.
func (e *StatusError) Unwrap() error { return e.Err }

// Is makes every StatusError match ErrCommunication.
func (e *StatusError) Is(target error) bool { return target == ErrCommunication }

// CheckStatus returns a *StatusError unless got equals want and err is nil.
func CheckStatus(op string, want, got int, err error) error {
	if err == nil && got == want {
		return nil
	}
	if got == 0 && err != nil {
		return fmt.Errorf("tracker %s: %w: %w", op, ErrCommunication, err)
	}
	return &StatusError{Op: op, Want: want, Got: got, Err: err}
}
