package tron

import (
	"context"
	"fmt"
	"time"

	"github.com/fbsobreira/gotron-sdk/pkg/client"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/interceptor"
	"tronex.com/pkg/ratelimit"
)

const target = "tron"

// headerAPIKey TronGrid 的鉴权头
const headerAPIKey = "TRON-PRO-API-KEY"

type Config struct {
	Endpoint     string        `mapstructure:"endpoint"` // grpc.trongrid.io:50051
	APIKey       string        `mapstructure:"apiKey"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RPS          float64       `mapstructure:"rps"` // TronGrid 配额
	Burst        int           `mapstructure:"burst"`
	MaxRetries   uint          `mapstructure:"maxRetries"`
	UsdtContract string        `mapstructure:"usdtContract"`
	WatchNative  bool          `mapstructure:"watchNative"`
}

// Client 实现 domain.ChainAdapter
type Client struct {
	grpc   *client.GrpcClient
	parser *Parser
}

var _ domain.ChainAdapter = (*Client)(nil)

func Dial(cfg Config, opts ...grpc.DialOption) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tron: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RPS)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	limiter := ratelimit.NewStore(rate.Limit(cfg.RPS), cfg.Burst, 0)
	breakers := ratelimit.NewBreakers(ratelimit.Rule{
		MaxRequests:             1,
		Interval:                time.Minute,
		Timeout:                 30 * time.Second,
		TripConsecutiveFailures: 5,
	}, nil)

	// 外层先执行：超时包住整次调用，熔断看的是重试之后的结果
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(
			interceptor.RequestIDUnaryClient(),
			apiKeyUnaryClient(cfg.APIKey),
			interceptor.TimeoutUnaryClient(cfg.Timeout),
			interceptor.BreakerUnaryClient(breakers, target),
			interceptor.RateLimitUnaryClient(limiter, target),
			retry.UnaryClientInterceptor(
				retry.WithMax(cfg.MaxRetries),
				retry.WithCodes(codes.Unavailable),
				retry.WithBackoff(retry.BackoffExponential(200*time.Millisecond)),
			),
			grpc_prometheus.UnaryClientInterceptor,
		),
	}
	dialOpts = append(dialOpts, opts...)

	gc := client.NewGrpcClient(cfg.Endpoint)
	if err := gc.Start(dialOpts...); err != nil {
		return nil, fmt.Errorf("tron: start grpc client %s: %w", cfg.Endpoint, err)
	}
	return &Client{grpc: gc, parser: NewParser(cfg.UsdtContract, cfg.WatchNative)}, nil
}

func (c *Client) Close() error {
	c.grpc.Stop()
	return nil
}

func (c *Client) GetBlockHeight(ctx context.Context) (int64, error) {
	b, err := c.grpc.Client.GetNowBlock2(ctx, &api.EmptyMessage{})
	if err != nil {
		return 0, fmt.Errorf("tron: get now block: %w", err)
	}
	if b.BlockHeader == nil || b.BlockHeader.RawData == nil {
		return 0, fmt.Errorf("tron: now block has no header")
	}
	return b.BlockHeader.RawData.Number, nil
}

func (c *Client) FetchBlock(ctx context.Context, height int64) (*domain.StandardBlock, error) {
	b, err := c.grpc.Client.GetBlockByNum2(ctx, &api.NumberMessage{Num: height})
	if err != nil {
		return nil, fmt.Errorf("tron: get block %d: %w", height, err)
	}
	block, err := c.parser.ParseBlock(b)
	if err != nil {
		return nil, fmt.Errorf("tron: block %d: %w", height, err)
	}
	if block.Height != height {
		// 节点还没同步到这个高度时会返回空块
		return nil, fmt.Errorf("tron: block %d not available (got %d)", height, block.Height)
	}
	return block, nil
}

// apiKeyUnaryClient 直接调 WalletClient 时 SDK 不会带 key，这里统一补上
func apiKeyUnaryClient(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if apiKey != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, headerAPIKey, apiKey)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
