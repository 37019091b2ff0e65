package social

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/unclebandit/campaign-lifecycle/internal/ratebudget"
)

// ThrottledReader paces each read endpoint through its own token bucket so
// collection never exceeds the per-window quota.
type ThrottledReader struct {
	next     Reader
	limiters map[string]*rate.Limiter
}

func NewThrottledReader(next Reader, quotas ratebudget.QuotaTable) *ThrottledReader {
	return &ThrottledReader{next: next, limiters: quotas.Limiters()}
}

func (r *ThrottledReader) wait(ctx context.Context, endpoint string) error {
	l, ok := r.limiters[endpoint]
	if !ok {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%s quota wait: %w", endpoint, err)
	}
	return nil
}

func (r *ThrottledReader) LikedBy(ctx context.Context, postID string) ([]Engagement, error) {
	if err := r.wait(ctx, ratebudget.EndpointLikedBy); err != nil {
		return nil, err
	}
	return r.next.LikedBy(ctx, postID)
}

func (r *ThrottledReader) RetweetedBy(ctx context.Context, postID string) ([]Engagement, error) {
	if err := r.wait(ctx, ratebudget.EndpointRetweetedBy); err != nil {
		return nil, err
	}
	return r.next.RetweetedBy(ctx, postID)
}

func (r *ThrottledReader) QuotedBy(ctx context.Context, postID string) ([]Engagement, error) {
	if err := r.wait(ctx, ratebudget.EndpointQuotedBy); err != nil {
		return nil, err
	}
	return r.next.QuotedBy(ctx, postID)
}

func (r *ThrottledReader) RepliesTo(ctx context.Context, postID string) ([]Engagement, error) {
	if err := r.wait(ctx, ratebudget.EndpointRepliesTo); err != nil {
		return nil, err
	}
	return r.next.RepliesTo(ctx, postID)
}

var _ Reader = (*ThrottledReader)(nil)
