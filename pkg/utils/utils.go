package utils

import (
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// SafeGo 安全地启动一个goroutine，捕获并记录panic
func SafeGo(fn func(), logger *zap.Logger) {
	go func() {
		defer Recover(logger, "goroutine")
		fn()
	}()
}

// Recover 捕获panic并记录日志，需直接在defer中调用
func Recover(logger *zap.Logger, where string) {
	if r := recover(); r != nil && logger != nil {
		logger.Error("捕获到panic",
			zap.String("where", where),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()))
	}
}

// CallSafely 执行fn并把panic转换为错误
func CallSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// RetryWithBackoff 使用指数退避重试函数
func RetryWithBackoff(fn func() error, maxRetries int, initialBackoff time.Duration) error {
	var err error
	backoff := initialBackoff

	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	return err
}
