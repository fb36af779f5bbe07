package utils

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// WrapPanic 包装恐慌恢复，恐慌被记录后吞掉
func WrapPanic(logger *zap.Logger, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("发生恐慌",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		fn()
	}
}
