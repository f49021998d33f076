package mailer

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

// RateLimited caps the send rate of the wrapped Mailer.
type RateLimited struct {
	next    Mailer
	limiter *rate.Limiter
}

// NewRateLimited wraps next. A non-positive perSecond disables limiting.
func NewRateLimited(next Mailer, perSecond float64, burst int) Mailer {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Send(ctx context.Context, to model.Recipient, subject, htmlBody string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.Send(ctx, to, subject, htmlBody)
}
