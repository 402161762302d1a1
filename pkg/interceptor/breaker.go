package interceptor

import (
	"context"
	"errors"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"tronex.com/pkg/metrics"
	"tronex.com/pkg/ratelimit"
)

// BreakerUnaryClient 按方法熔断，节点连续故障时直接 fail-fast
func BreakerUnaryClient(b *ratelimit.Breakers, target string) grpc.UnaryClientInterceptor {
	b.OnStateChange(func(method string, to gobreaker.State) {
		for _, s := range []gobreaker.State{gobreaker.StateClosed, gobreaker.StateHalfOpen, gobreaker.StateOpen} {
			v := 0.0
			if s == to {
				v = 1
			}
			metrics.CBState.WithLabelValues(target, method, stateLabel(s)).Set(v)
		}
	})
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		_, err := b.Get(method).Execute(func() (struct{}, error) {
			return struct{}{}, invoker(ctx, method, req, reply, cc, opts...)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CBRejectTotal.WithLabelValues(target, method, "open").Inc()
			return status.Error(codes.Unavailable, "circuit breaker open")
		}
		return err
	}
}

func stateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
