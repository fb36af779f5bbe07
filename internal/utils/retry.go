package utils

import (
	"context"
	"time"
)

// RetryPolicy 指数退避重试策略
type RetryPolicy struct {
	maxRetries    int           // 最大尝试次数
	baseDelay     time.Duration // 基础延迟
	maxDelay      time.Duration // 最大延迟
	backoffFactor float64       // 退避因子
}

// NewRetryPolicy 创建新的重试策略
func NewRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration, backoffFactor float64) *RetryPolicy {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RetryPolicy{
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		backoffFactor: backoffFactor,
	}
}

// ExecuteWithRetry 带重试的执行，ctx取消时立即返回
func (rp *RetryPolicy) ExecuteWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for i := 0; i < rp.maxRetries; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if i == rp.maxRetries-1 {
			break
		}

		timer := time.NewTimer(rp.delay(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// delay 计算第attempt次失败后的等待时间
func (rp *RetryPolicy) delay(attempt int) time.Duration {
	d := float64(rp.baseDelay)
	for i := 0; i < attempt; i++ {
		d *= rp.backoffFactor
	}
	if rp.maxDelay > 0 && time.Duration(d) > rp.maxDelay {
		return rp.maxDelay
	}
	return time.Duration(d)
}
