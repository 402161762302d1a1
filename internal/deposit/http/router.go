package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"tronex.com/pkg/middleware"
	"tronex.com/pkg/ratelimit"
)

type RouterOptions struct {
	ServiceName string
	RateLimit   float64 // 每个 ip+路由 每秒
	Burst       int
}

var (
	promOnce sync.Once
	prom     *ginprom.Prometheus
)

// ginprom 的指标注册在默认 registry 上，整个进程只建一次
func httpMetrics() *ginprom.Prometheus {
	promOnce.Do(func() {
		prom = ginprom.NewPrometheus("tronex")
	})
	return prom
}

// NewRouter ctx 结束时限流表的清理协程退出
func NewRouter(ctx context.Context, h *Handler, opt RouterOptions) *gin.Engine {
	if opt.ServiceName == "" {
		opt.ServiceName = "deposit-service"
	}
	if opt.RateLimit <= 0 {
		opt.RateLimit = 20
	}
	if opt.Burst <= 0 {
		opt.Burst = 40
	}
	store := ratelimit.NewStore(rate.Limit(opt.RateLimit), opt.Burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	httpMetrics().Use(r)
	r.Use(
		otelgin.Middleware(opt.ServiceName),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
		middleware.RateLimit(store, opt.ServiceName),
	)

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := r.Group("/api")
	{
		api.POST("/deposit/start", h.StartDeposit)
		api.POST("/deposits", h.CreateDeposit)
		api.GET("/deposits", h.ListUserDeposits)
		api.GET("/balance/:userId", h.GetBalance)
	}

	// 运维接口，鉴权在网关做
	admin := r.Group("/admin")
	{
		admin.GET("/deposits", h.AdminListDeposits)
		admin.GET("/deposits/:id", h.AdminGetDeposit)
		admin.POST("/deposits/:id/confirm", h.AdminConfirm)
		admin.POST("/deposits/:id/reject", h.AdminReject)
		admin.GET("/addresses", h.AdminListAddresses)
		admin.GET("/addresses/:userId", h.AdminGetAddress)
		admin.GET("/checkpoint", h.AdminCheckpoint)
	}
	return r
}
