package interceptor

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"tronex.com/pkg/common"
)

// RequestIDUnaryClient 把 ctx 里的 request id 带到节点请求的 metadata 上
func RequestIDUnaryClient() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if rid := common.RequestIDFromCtx(ctx); rid != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, common.MetaRequestID, rid)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
