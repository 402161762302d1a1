package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"tronex.com/internal/deposit/chain/tron"
	dcfg "tronex.com/internal/deposit/config"
	"tronex.com/internal/deposit/domain"
	dhttp "tronex.com/internal/deposit/http"
	"tronex.com/internal/deposit/notify"
	"tronex.com/internal/deposit/repo"
	"tronex.com/internal/deposit/scanner"
	"tronex.com/internal/deposit/service"
	"tronex.com/pkg/bootstrap"
	"tronex.com/pkg/config"
	"tronex.com/pkg/hdwallet"
	"tronex.com/pkg/logger"
	"tronex.com/pkg/metrics"
	"tronex.com/pkg/orm"
	"tronex.com/pkg/register"
	"tronex.com/pkg/register/etcd"
	"tronex.com/pkg/trace"
	"tronex.com/pkg/xredis"
)

func main() {
	configDir := flag.String("config", "", "配置目录，默认 ./config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg dcfg.Config
	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	// 热更新只校验新文件并提示，cfg 启动后只读
	_, err := config.LoadAndWatch("deposit", &cfg, func(v *viper.Viper) {
		if _, err := dcfg.Reload(v); err != nil {
			logger.Warn(ctx, "reloaded config invalid", zap.Error(err))
			return
		}
		logger.Info(ctx, "config reloaded, restart to apply")
	}, paths...)
	if err != nil {
		panic("load config: " + err.Error())
	}
	cfg.SetDefaults()

	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal(ctx, "invalid config", zap.Error(err))
	}
	logger.Info(ctx, "service starting", zap.Any("config", cfg.Redacted()))

	if err := run(ctx, &cfg); err != nil {
		logger.Fatal(ctx, "service exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *dcfg.Config) error {
	var shutdown []func(context.Context) error

	shutdownTracer, err := trace.InitTrace(cfg.Name, cfg.Trace.Endpoint)
	if err != nil {
		return err
	}
	shutdown = append(shutdown, shutdownTracer)

	// 数据库
	db, err := orm.NewDB(&cfg.DB)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if err := metrics.InstrumentGorm(db); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	shutdown = append(shutdown, func(context.Context) error { return sqlDB.Close() })
	store := repo.New(db)

	metrics.MustRegister()

	// 助记词只在这里用一次，之后只留账户级扩展密钥
	wallet, err := hdwallet.NewTron(cfg.Wallet.Mnemonic)
	if err != nil {
		logger.Fatal(ctx, "init hd wallet failed", zap.Error(err))
	}
	cfg.Wallet.Mnemonic = ""

	var rdb *redis.Client
	if cfg.Scanner.Sink == domain.SinkStream {
		if rdb, err = xredis.NewRedis(&cfg.Redis); err != nil {
			return err
		}
		rdb.AddHook(metrics.RedisHook{})
		shutdown = append(shutdown, func(context.Context) error { return rdb.Close() })
	}
	metrics.StartPoolCollector(ctx, sqlDB, rdb, 15*time.Second)

	// 通知
	var broker notify.Broker = notify.NewMemBroker()
	if cfg.Notify.NatsURL != "" {
		nb, err := notify.NewNatsBroker(cfg.Notify.NatsURL)
		if err != nil {
			return err
		}
		broker = nb
	}
	shutdown = append(shutdown, func(context.Context) error { return broker.Close() })
	notifier := notify.NewNotifier(broker)

	addresses := service.NewAddressService(store, wallet, service.RegistryOptions{
		MaxRetries:  cfg.Wallet.AssignRetry,
		BaseBackoff: cfg.Wallet.RetryBackoff,
	})
	deposits := service.NewDepositService(store, notifier)
	reconciler := service.NewReconciler(store, cfg.ToleranceDecimal(), notifier)
	checkpoint := service.NewCheckpointService(store, domain.ChainTron, cfg.Scanner.LeaseTTL)

	var workers []bootstrap.Worker
	if cfg.Scanner.Enabled {
		chain, err := tron.Dial(cfg.Tron)
		if err != nil {
			return err
		}
		shutdown = append(shutdown, func(context.Context) error { return chain.Close() })

		var sink scanner.Sink = scanner.NewDirectSink(reconciler)
		if cfg.Scanner.Sink == domain.SinkStream {
			sink = scanner.NewStreamSink(rdb, cfg.Scanner.Stream.Key)
			consumer := scanner.NewStreamConsumer(rdb, reconciler, scanner.ConsumerConfig{
				Stream:       cfg.Scanner.Stream.Key,
				Group:        cfg.Scanner.Stream.Group,
				Name:         cfg.Scanner.Stream.Consumer,
				Workers:      cfg.Scanner.Stream.Workers,
				Batch:        cfg.Scanner.Stream.Batch,
				Block:        cfg.Scanner.Stream.Block,
				PendingEvery: cfg.Scanner.Stream.PendingEvery,
			})
			workers = append(workers, bootstrap.Worker{Name: "deposit-consumer", Run: consumer.Run})
		}

		engine := scanner.NewEngine(scanner.Config{
			Chain:            domain.ChainTron,
			Interval:         cfg.Scanner.Interval,
			ConfirmDepth:     cfg.Scanner.ConfirmDepth,
			MaxBlocksPerPass: cfg.Scanner.MaxBlocksPerPass,
			PassTimeout:      cfg.Scanner.PassTimeout,
			StartHeight:      cfg.Scanner.StartHeight,
		}, chain, checkpoint, store, sink)
		workers = append(workers, bootstrap.Worker{Name: "tron-scanner", Run: engine.Start})
	}

	gin.SetMode(gin.ReleaseMode)
	handler := dhttp.NewHandler(addresses, deposits, checkpoint)
	router := dhttp.NewRouter(ctx, handler, dhttp.RouterOptions{
		ServiceName: cfg.Name,
		RateLimit:   cfg.HTTP.RateLimit,
		Burst:       cfg.HTTP.Burst,
	})

	if cfg.Registry.Enabled() {
		unregister, err := registerInstance(ctx, cfg)
		if err != nil {
			return err
		}
		// 先摘流量再关连接
		shutdown = append([]func(context.Context) error{unregister}, shutdown...)
	}

	return bootstrap.Run(ctx, bootstrap.Options{
		ServiceName: cfg.Name,
		HTTPAddr:    cfg.HTTP.Addr,
		Handler:     router,
		MetricsAddr: cfg.Metrics.Addr,
		PprofAddr:   cfg.Metrics.PprofAddr,
		Workers:     workers,
		OnShutdown:  shutdown,
	})
}

func registerInstance(ctx context.Context, cfg *dcfg.Config) (func(context.Context) error, error) {
	cli, err := etcd.NewClient(cfg.Registry)
	if err != nil {
		return nil, err
	}
	addr := advertiseAddr(cfg.HTTP.Addr)
	ins := &register.Instance{
		ID:       addr,
		Name:     cfg.Name,
		Addr:     addr,
		MetaData: map[string]string{"proto": "http", "chain": domain.ChainTron},
	}
	reg := etcd.NewEtcdRegister(cli, cfg.Registry.BasePath, cfg.Registry.TTL)
	if err := reg.Register(ctx, ins); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return func(c context.Context) error {
		defer cli.Close()
		return reg.UnRegister(c, ins)
	}, nil
}

// advertiseAddr ":8080" 这种只有端口的，补上主机名
func advertiseAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil || host != "" {
		return listen
	}
	if h, err := os.Hostname(); err == nil {
		host = h
	}
	return net.JoinHostPort(host, port)
}
