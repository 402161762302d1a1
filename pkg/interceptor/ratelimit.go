package interceptor

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"tronex.com/pkg/metrics"
	"tronex.com/pkg/ratelimit"
)

// RateLimitUnaryClient 节点有 QPS 配额，按方法排队等令牌，ctx 结束则放弃
func RateLimitUnaryClient(store *ratelimit.Store, target string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if err := store.Wait(ctx, method); err != nil {
			metrics.RateLimitBlockTotal.WithLabelValues(target, method, "token_bucket").Inc()
			return status.Error(codes.ResourceExhausted, "rate limited: "+err.Error())
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
