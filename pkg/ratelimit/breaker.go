package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Rule 单个方法的熔断规则
type Rule struct {
	MaxRequests  uint32        // half-open 放行的探测请求数
	Interval     time.Duration // closed 状态计数窗口
	BucketPeriod time.Duration // >0 启用滑动窗口
	Timeout      time.Duration // open 持续多久进入 half-open

	// 两个条件满足其一就熔断
	TripConsecutiveFailures uint32
	TripFailureRate         float64 // 0~1
	TripMinRequests         uint32  // 算失败率的最小样本数
}

// Breakers 按节点方法名懒创建熔断器
type Breakers struct {
	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[struct{}]

	defaultRule Rule
	rules       map[string]Rule
	onChange    func(method string, to gobreaker.State)
}

func NewBreakers(defaultRule Rule, perMethod map[string]Rule) *Breakers {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 1
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 10 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 30 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 5
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 10
	}
	return &Breakers{
		m:           make(map[string]*gobreaker.CircuitBreaker[struct{}], 8),
		defaultRule: defaultRule,
		rules:       perMethod,
	}
}

// OnStateChange 状态变化回调，用来刷指标
func (b *Breakers) OnStateChange(fn func(method string, to gobreaker.State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breakers) Get(method string) *gobreaker.CircuitBreaker[struct{}] {
	b.mu.RLock()
	cb := b.m[method]
	b.mu.RUnlock()
	if cb != nil {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb = b.m[method]; cb != nil {
		return cb
	}

	rule, ok := b.rules[method]
	if !ok {
		rule = b.defaultRule
	}
	onChange := b.onChange
	st := gobreaker.Settings{
		Name:         method,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: isHealthy,
		OnStateChange: func(name string, _, to gobreaker.State) {
			if onChange != nil {
				onChange(name, to)
			}
		},
	}
	cb = gobreaker.NewCircuitBreaker[struct{}](st)
	b.m[method] = cb
	return cb
}

// isHealthy 判断一次调用是否说明节点健康
// 调用方自己取消、查不到块这类错误不算节点故障
func isHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.InvalidArgument,
		codes.NotFound,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.FailedPrecondition,
		codes.OutOfRange,
		codes.Canceled:
		return true
	default:
		return false
	}
}
