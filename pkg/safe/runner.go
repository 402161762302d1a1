package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"tronex.com/pkg/logger"
)

// Go 安全启动协程，panic 只记录不扩散
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx 携带 context 启动协程，panic 日志里保留链路信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer Recover(ctx, "goroutine")
		fn(ctx)
	}()
}

// Recover 给长驻循环的单次迭代兜底，必须直接 defer 调用
func Recover(ctx context.Context, where string) {
	if r := recover(); r != nil {
		logger.Error(ctx, "🚨 PANIC RECOVERED",
			zap.String("where", where),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
