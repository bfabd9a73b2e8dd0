// Package github binds the tracker interface to the GitHub Issues REST API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v58/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/xkilldash9x/exreporter/pkg/tracker"
)

// Name is the registry name of this binding.
const Name = "github"

// Tracker files issues in one GitHub repository.
type Tracker struct {
	client *gogithub.Client
	owner  string
	repo   string
	logger *zap.Logger
}

var _ tracker.Tracker = (*Tracker)(nil)

type options struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// Option configures New.
type Option func(*options)

// WithHTTPClient sets the base HTTP client. The token transport wraps its
// Transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBaseURL points the client at a GitHub Enterprise API root or a test server.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a GitHub tracker for creds.
func New(creds tracker.Credentials, opts ...Option) (*Tracker, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("github tracker: %w", err)
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	base := http.DefaultTransport
	timeout := time.Duration(0)
	if o.httpClient != nil {
		if o.httpClient.Transport != nil {
			base = o.httpClient.Transport
		}
		timeout = o.httpClient.Timeout
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.Token}),
			Base:   base,
		},
	}

	client := gogithub.NewClient(httpClient)
	if o.baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github tracker: invalid base url: %w", err)
		}
		client.BaseURL = u
	}

	return &Tracker{
		client: client,
		owner:  creds.Owner,
		repo:   creds.Repo,
		logger: o.logger.Named("github"),
	}, nil
}

// SearchQuery builds the issue search string for q scoped to the repository.
func (t *Tracker) SearchQuery(q tracker.Query) string {
	parts := []string{
		quote(q.Text),
		"in:body",
		fmt.Sprintf("repo:%s/%s", t.owner, t.repo),
		"is:issue",
	}
	if len(q.States) == 1 {
		parts = append(parts, "state:"+string(q.States[0]))
	}
	for _, l := range q.Labels {
		parts = append(parts, "label:"+quote(l))
	}
	return strings.Join(parts, " ")
}

// Search finds issues whose body contains q.Text, most recently updated first.
func (t *Tracker) Search(ctx context.Context, q tracker.Query) ([]tracker.Issue, error) {
	query := t.SearchQuery(q)
	result, resp, err := t.client.Search.Issues(ctx, query, &gogithub.SearchOptions{
		Sort:        "updated",
		Order:       "desc",
		ListOptions: gogithub.ListOptions{PerPage: 30},
	})
	if err := tracker.CheckStatus("search", http.StatusOK, statusOf(resp), err); err != nil {
		return nil, err
	}
	t.logger.Debug("Searched issues.", zap.String("query", query), zap.Int("total", result.GetTotal()))

	issues := make([]tracker.Issue, 0, len(result.Issues))
	for _, gi := range result.Issues {
		if gi == nil || gi.IsPullRequest() {
			continue
		}
		issues = append(issues, fromGitHub(gi))
	}
	return issues, nil
}

// Create opens a new issue.
func (t *Tracker) Create(ctx context.Context, in tracker.NewIssue) (*tracker.Issue, error) {
	req := &gogithub.IssueRequest{
		Title: gogithub.String(in.Title),
		Body:  gogithub.String(in.Body),
	}
	if len(in.Labels) > 0 {
		labels := append([]string(nil), in.Labels...)
		req.Labels = &labels
	}
	gi, resp, err := t.client.Issues.Create(ctx, t.owner, t.repo, req)
	if err := tracker.CheckStatus("create", http.StatusCreated, statusOf(resp), err); err != nil {
		return nil, err
	}
	issue := fromGitHub(gi)
	t.logger.Info("Created issue.", zap.Int("number", issue.Number), zap.String("url", issue.HTMLURL))
	return &issue, nil
}

// Comment adds body to issue and reopens it if it was closed. The returned
// issue reflects the new comment count.
func (t *Tracker) Comment(ctx context.Context, issue *tracker.Issue, body string) (*tracker.Issue, error) {
	c, resp, err := t.client.Issues.CreateComment(ctx, t.owner, t.repo, issue.Number, &gogithub.IssueComment{
		Body: gogithub.String(body),
	})
	if err := tracker.CheckStatus("comment", http.StatusCreated, statusOf(resp), err); err != nil {
		return nil, err
	}

	updated := *issue
	updated.Labels = append([]string(nil), issue.Labels...)
	updated.Comments++
	if ts := c.GetCreatedAt(); !ts.IsZero() {
		updated.UpdatedAt = ts.Time
	}
	t.logger.Info("Commented on issue.", zap.Int("number", issue.Number), zap.Int("comments", updated.Comments))

	if updated.Closed() {
		return t.Reopen(ctx, &updated)
	}
	return &updated, nil
}

// Reopen sets the issue state to open.
func (t *Tracker) Reopen(ctx context.Context, issue *tracker.Issue) (*tracker.Issue, error) {
	gi, resp, err := t.client.Issues.Edit(ctx, t.owner, t.repo, issue.Number, &gogithub.IssueRequest{
		State: gogithub.String(string(tracker.StateOpen)),
	})
	if err := tracker.CheckStatus("reopen", http.StatusOK, statusOf(resp), err); err != nil {
		return nil, err
	}
	reopened := fromGitHub(gi)
	if reopened.Comments < issue.Comments {
		reopened.Comments = issue.Comments
	}
	t.logger.Info("Reopened issue.", zap.Int("number", issue.Number))
	return &reopened, nil
}

func fromGitHub(gi *gogithub.Issue) tracker.Issue {
	issue := tracker.Issue{
		Number:      gi.GetNumber(),
		Title:       gi.GetTitle(),
		State:       tracker.State(gi.GetState()),
		Comments:    gi.GetComments(),
		UpdatedAt:   gi.GetUpdatedAt().Time,
		HTMLURL:     gi.GetHTMLURL(),
		URL:         gi.GetURL(),
		CommentsURL: gi.GetCommentsURL(),
	}
	for _, l := range gi.Labels {
		if name := l.GetName(); name != "" {
			issue.Labels = append(issue.Labels, name)
		}
	}
	return issue
}

func statusOf(resp *gogithub.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "") + `"`
}
