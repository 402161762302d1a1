package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"tronex.com/pkg/logger"
)

// Worker 后台常驻任务，ctx 结束时返回
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Options 服务启动参数，依赖由调用方提前构建好
type Options struct {
	ServiceName string

	HTTPAddr    string
	Handler     http.Handler
	MetricsAddr string
	PprofAddr   string

	Workers []Worker

	// 退出时按顺序调用，比如关 tracer、关连接
	OnShutdown []func(ctx context.Context) error

	ShutdownTimeout time.Duration
}

// Run 启动 http 与后台任务，ctx 取消或任一任务出错后优雅退出
func Run(ctx context.Context, opt Options) error {
	if opt.ServiceName == "" {
		return fmt.Errorf("bootstrap: missing service name")
	}
	if opt.ShutdownTimeout <= 0 {
		opt.ShutdownTimeout = 10 * time.Second
	}

	if opt.PprofAddr != "" {
		startPprof(ctx, opt.PprofAddr)
	}
	if opt.MetricsAddr != "" {
		startMetrics(ctx, opt.MetricsAddr)
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if opt.HTTPAddr != "" && opt.Handler != nil {
		srv = &http.Server{
			Addr:              opt.HTTPAddr,
			Handler:           opt.Handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info(ctx, "http listening", zap.String("addr", opt.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http serve: %w", err)
			}
			return nil
		})
	}

	for _, w := range opt.Workers {
		w := w
		g.Go(func() error {
			logger.Info(ctx, "worker started", zap.String("worker", w.Name))
			err := w.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("worker %s: %w", w.Name, err)
			}
			logger.Info(ctx, "worker stopped", zap.String("worker", w.Name))
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "shutdown signal received")
		if srv == nil {
			return nil
		}
		sctx, cancel := context.WithTimeout(context.Background(), opt.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	runErr := g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), opt.ShutdownTimeout)
	defer cancel()
	for _, fn := range opt.OnShutdown {
		if err := fn(sctx); err != nil {
			logger.Warn(ctx, "shutdown hook failed", zap.Error(err))
		}
	}
	logger.Info(ctx, "service stopped", zap.String("service", opt.ServiceName))
	return runErr
}

func startPprof(ctx context.Context, addr string) {
	runtime.SetMutexProfileFraction(10)
	runtime.SetBlockProfileRate(10000)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	serveAux(ctx, "pprof", addr, mux)
}

func startMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serveAux(ctx, "metrics", addr, mux)
}

func serveAux(ctx context.Context, name, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 3 * time.Second}
	go func() {
		logger.Info(ctx, name+" listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, name+" listen error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}
