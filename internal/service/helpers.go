package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/events"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

const defaultWriteTimeout = 10 * time.Second

// withWriteTimeout bounds a single primary write.
func withWriteTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// newBackOff is the retry schedule for best-effort side effects.
func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// retry runs op until it succeeds, fails permanently or runs out of attempts.
// Only transient errors are retried.
func retry[T any](ctx context.Context, b backoff.BackOff, attempts int, op func() (T, error)) (T, error) {
	if attempts <= 0 {
		attempts = 1
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !apperrors.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)))
}

// signaler pushes change-feed signals after committed writes. Failures are logged only.
type signaler struct {
	feed     events.ChangeFeed
	logger   *zap.Logger
	backoff  func() backoff.BackOff
	attempts int
}

func (s signaler) signal(ctx context.Context, topics ...events.Topic) {
	if s.feed == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, topic := range topics {
		_, err := retry(ctx, s.backoff(), s.attempts, func() (struct{}, error) {
			if err := s.feed.Publish(ctx, topic); err != nil {
				return struct{}{}, apperrors.NewTransientError(err)
			}
			return struct{}{}, nil
		})
		if err != nil {
			s.logger.Warn("change feed publish failed", zap.String("topic", string(topic)), zap.Error(err))
		}
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
