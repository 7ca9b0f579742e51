package propagation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts    = 20
	DefaultInterval       = 10 * time.Second
	DefaultAttemptTimeout = 5 * time.Second
)

// SleepFunc 在两次尝试之间等待，ctx 取消时立即返回
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy 有限次数的重试策略
type RetryPolicy struct {
	MaxAttempts int
	// BackOff 会被并发调用，有状态的实现需要每个 RetryPolicy 单独一份
	BackOff        backoff.BackOff
	AttemptTimeout time.Duration
	Sleep          SleepFunc
}

// DefaultRetryPolicy 20 次，固定间隔 10s，单次超时 5s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		BackOff:        backoff.NewConstantBackOff(DefaultInterval),
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Do 执行 fn 直到返回 true 或次数用尽
// 只在两次尝试之间等待，K 次尝试对应 K-1 次等待
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) bool) (attempts int, ok bool, err error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	b := p.BackOff
	if b == nil {
		b = backoff.NewConstantBackOff(DefaultInterval)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	b.Reset()

	for attempts = 1; attempts <= maxAttempts; attempts++ {
		if err := ctx.Err(); err != nil {
			return attempts - 1, false, err
		}

		if p.try(ctx, fn) {
			return attempts, true, nil
		}

		if attempts == maxAttempts {
			break
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if err := sleep(ctx, wait); err != nil {
			return attempts, false, err
		}
	}

	return attempts, false, nil
}

func (p RetryPolicy) try(ctx context.Context, fn func(ctx context.Context) bool) bool {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// Sleep 可取消的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
