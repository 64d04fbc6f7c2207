package exchange

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/skalibog/bandarscope/internal/metrics"
	"github.com/skalibog/bandarscope/pkg/models"
)

// Policy поведение лимитера при исчерпании токенов
type Policy string

const (
	// PolicyBlock ждать освобождения токена не дольше waitTimeout
	PolicyBlock Policy = "block"
	// PolicyFailFast сразу возвращать ErrRateLimited
	PolicyFailFast Policy = "fail_fast"
)

// RateLimiter общий для всех пар и типов запросов лимитер:
// не более calls запросов за window, всплеск до calls.
type RateLimiter struct {
	limiter     *rate.Limiter
	policy      Policy
	waitTimeout time.Duration
	metrics     *metrics.Metrics
}

// NewRateLimiter создает лимитер. waitTimeout == 0 при PolicyBlock означает ожидание до отмены контекста.
func NewRateLimiter(calls int, window time.Duration, policy Policy, waitTimeout time.Duration, m *metrics.Metrics) *RateLimiter {
	if calls < 1 {
		calls = 1
	}
	return &RateLimiter{
		limiter:     rate.NewLimiter(rate.Every(window/time.Duration(calls)), calls),
		policy:      policy,
		waitTimeout: waitTimeout,
		metrics:     m,
	}
}

// Acquire получает токен на один запрос к бирже
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r.policy == PolicyFailFast {
		if !r.limiter.Allow() {
			r.metrics.IncRateLimited()
			return fmt.Errorf("%w: лимит запросов исчерпан", models.ErrRateLimited)
		}
		return nil
	}

	waitCtx := ctx
	if r.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.waitTimeout)
		defer cancel()
	}

	if err := r.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.metrics.IncRateLimited()
		return fmt.Errorf("%w: не удалось дождаться токена: %v", models.ErrRateLimited, err)
	}
	return nil
}
