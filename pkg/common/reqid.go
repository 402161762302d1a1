package common

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"tronex.com/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-Id"
	MetaRequestID   = "x-request-id" // grpc metadata key 用小写
	CtxKeyRequestID = logger.RequestIdKey
)

func New() string { return uuid.NewString() }

// WithRequestID 写入 string key，logger 和节点拦截器都从这里读
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, CtxKeyRequestID, rid) //nolint:staticcheck
}

func RequestIDFromCtx(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(CtxKeyRequestID).(string); ok {
		return s
	}
	return ""
}

// 获取id
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
