package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestRetryPolicySucceeds 测试重试后成功
func TestRetryPolicySucceeds(t *testing.T) {
	rp := NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond, 2)

	attempts := 0
	err := rp.ExecuteWithRetry(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

// TestRetryPolicyExhausted 测试重试耗尽
func TestRetryPolicyExhausted(t *testing.T) {
	rp := NewRetryPolicy(2, time.Millisecond, time.Millisecond, 2)
	boom := errors.New("boom")

	attempts := 0
	err := rp.ExecuteWithRetry(context.Background(), func(context.Context) error {
		attempts++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, attempts)
}

// TestRetryPolicyCanceled 测试上下文取消
func TestRetryPolicyCanceled(t *testing.T) {
	rp := NewRetryPolicy(5, time.Hour, time.Hour, 2)
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := rp.ExecuteWithRetry(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

// TestRetryPolicyDelay 测试退避计算
func TestRetryPolicyDelay(t *testing.T) {
	rp := NewRetryPolicy(5, 100*time.Millisecond, 300*time.Millisecond, 2)
	assert.Equal(t, 100*time.Millisecond, rp.delay(0))
	assert.Equal(t, 200*time.Millisecond, rp.delay(1))
	assert.Equal(t, 300*time.Millisecond, rp.delay(2))
}

// TestWrapPanic 测试恐慌恢复
func TestWrapPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)

	assert.NotPanics(t, WrapPanic(zap.New(core), func() {
		panic("reader exploded")
	}))
	assert.Equal(t, 1, logs.FilterMessage("发生恐慌").Len())
}
