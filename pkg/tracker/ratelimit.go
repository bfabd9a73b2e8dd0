package tracker

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	next    Tracker
	limiter *rate.Limiter
}

// RateLimited wraps t so every call first waits on limiter. Nothing is retried;
// a cancelled wait fails the call.
func RateLimited(t Tracker, limiter *rate.Limiter) Tracker {
	if limiter == nil {
		return t
	}
	return &rateLimited{next: t, limiter: limiter}
}

func (r *rateLimited) wait(ctx context.Context, op string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("tracker %s: rate limiter: %w", op, err)
	}
	return nil
}

func (r *rateLimited) Search(ctx context.Context, q Query) ([]Issue, error) {
	if err := r.wait(ctx, "search"); err != nil {
		return nil, err
	}
	return r.next.Search(ctx, q)
}

func (r *rateLimited) Create(ctx context.Context, in NewIssue) (*Issue, error) {
	if err := r.wait(ctx, "create"); err != nil {
		return nil, err
	}
	return r.next.Create(ctx, in)
}

func (r *rateLimited) Comment(ctx context.Context, issue *Issue, body string) (*Issue, error) {
	if err := r.wait(ctx, "comment"); err != nil {
		return nil, err
	}
	return r.next.Comment(ctx, issue, body)
}

func (r *rateLimited) Reopen(ctx context.Context, issue *Issue) (*Issue, error) {
	if err := r.wait(ctx, "reopen"); err != nil {
		return nil, err
	}
	return r.next.Reopen(ctx, issue)
}
