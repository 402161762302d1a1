package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"tronex.com/internal/deposit/chain/tron"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/orm"
	"tronex.com/pkg/register/etcd"
	"tronex.com/pkg/xredis"
)

// Config deposit-service 总配置，对应 config/deposit.yaml
type Config struct {
	Name      string          `mapstructure:"name"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        orm.Config      `mapstructure:"db"`
	Redis     xredis.Config   `mapstructure:"redis"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Tron      tron.Config     `mapstructure:"tron"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Trace     TraceConfig     `mapstructure:"trace"`
	Registry  etcd.Config     `mapstructure:"registry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // 为空只打 stdout
}

type HTTPConfig struct {
	Addr      string  `mapstructure:"addr"`
	RateLimit float64 `mapstructure:"rateLimit"` // 每个 ip+路由 每秒请求数
	Burst     int     `mapstructure:"burst"`
}

// WalletConfig 助记词只从配置或环境变量 DEPOSIT_WALLET_MNEMONIC 读
type WalletConfig struct {
	Mnemonic     string        `mapstructure:"mnemonic"`
	AssignRetry  int           `mapstructure:"assignRetry"`
	RetryBackoff time.Duration `mapstructure:"retryBackoff"`
}

type ScannerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	ConfirmDepth     int64         `mapstructure:"confirmDepth"`
	MaxBlocksPerPass int64         `mapstructure:"maxBlocksPerPass"`
	PassTimeout      time.Duration `mapstructure:"passTimeout"`
	LeaseTTL         time.Duration `mapstructure:"leaseTTL"`
	StartHeight      int64         `mapstructure:"startHeight"`
	Sink             string        `mapstructure:"sink"` // direct / stream
	Stream           StreamConfig  `mapstructure:"stream"`
}

type StreamConfig struct {
	Key          string        `mapstructure:"key"`
	Group        string        `mapstructure:"group"`
	Consumer     string        `mapstructure:"consumer"` // 消费者名前缀，默认主机名
	Workers      int           `mapstructure:"workers"`
	Batch        int64         `mapstructure:"batch"`
	Block        time.Duration `mapstructure:"block"`
	PendingEvery time.Duration `mapstructure:"pendingEvery"`
}

type ReconcileConfig struct {
	Tolerance string `mapstructure:"tolerance"` // 绝对容差，默认 0
}

type NotifyConfig struct {
	NatsURL string `mapstructure:"natsUrl"` // 为空走进程内 broker
}

type TraceConfig struct {
	Endpoint string `mapstructure:"endpoint"` // OTLP 地址 / stdout / 空
}

type MetricsConfig struct {
	Addr      string `mapstructure:"addr"`
	PprofAddr string `mapstructure:"pprofAddr"`
}

// ToleranceDecimal Validate 之后调用，解析失败按 0 处理
func (c *Config) ToleranceDecimal() decimal.Decimal {
	if strings.TrimSpace(c.Reconcile.Tolerance) == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(c.Reconcile.Tolerance))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SetDefaults 没配的字段补默认值
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "deposit-service"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateLimit <= 0 {
		c.HTTP.RateLimit = 20
	}
	if c.HTTP.Burst <= 0 {
		c.HTTP.Burst = 40
	}
	if c.Tron.UsdtContract == "" {
		c.Tron.UsdtContract = tron.MainnetUSDT
	}
	if c.Scanner.Sink == "" {
		c.Scanner.Sink = domain.SinkDirect
	}
	if c.Scanner.Interval == 0 {
		c.Scanner.Interval = 3 * time.Second
	}
	if c.Scanner.PassTimeout == 0 {
		c.Scanner.PassTimeout = time.Minute
	}
	if c.Scanner.LeaseTTL == 0 {
		c.Scanner.LeaseTTL = 5 * time.Minute
	}
	if c.Scanner.Stream.Key == "" {
		c.Scanner.Stream.Key = domain.StreamDepositKey
	}
	if c.Scanner.Stream.Group == "" {
		c.Scanner.Stream.Group = domain.GroupName
	}
}

// Validate 配置不合法直接拒绝启动
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Wallet.Mnemonic) == "" {
		errs = append(errs, errors.New("wallet.mnemonic is required"))
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	s := c.Scanner
	if s.ConfirmDepth < 0 {
		errs = append(errs, fmt.Errorf("scanner.confirmDepth must be >= 0, got %d", s.ConfirmDepth))
	}
	if s.Interval <= 0 {
		errs = append(errs, errors.New("scanner.interval must be > 0"))
	}
	if s.MaxBlocksPerPass < 0 {
		errs = append(errs, errors.New("scanner.maxBlocksPerPass must be >= 0"))
	}
	if s.StartHeight < 0 {
		errs = append(errs, errors.New("scanner.startHeight must be >= 0"))
	}
	if s.LeaseTTL <= s.PassTimeout {
		errs = append(errs, fmt.Errorf("scanner.leaseTTL (%s) must exceed scanner.passTimeout (%s)", s.LeaseTTL, s.PassTimeout))
	}
	switch s.Sink {
	case domain.SinkDirect:
	case domain.SinkStream:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required when scanner.sink is stream"))
		}
	default:
		errs = append(errs, fmt.Errorf("scanner.sink must be direct or stream, got %q", s.Sink))
	}
	if s.Enabled && c.Tron.Endpoint == "" {
		errs = append(errs, errors.New("tron.endpoint is required when the scanner is enabled"))
	}
	if t := strings.TrimSpace(c.Reconcile.Tolerance); t != "" {
		d, err := decimal.NewFromString(t)
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile.tolerance: %w", err))
		} else if d.IsNegative() {
			errs = append(errs, errors.New("reconcile.tolerance must be >= 0"))
		}
	}
	return errors.Join(errs...)
}

// Reload 文件变更后解到新的 Config 上并校验，不动正在用的那份
func Reload(v *viper.Viper) (*Config, error) {
	var next Config
	if err := v.Unmarshal(&next); err != nil {
		return nil, err
	}
	next.SetDefaults()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

// Redacted 打日志用，助记词和密钥类字段打码
func (c Config) Redacted() Config {
	if c.Wallet.Mnemonic != "" {
		c.Wallet.Mnemonic = "******"
	}
	if c.Tron.APIKey != "" {
		c.Tron.APIKey = "******"
	}
	if c.Redis.Password != "" {
		c.Redis.Password = "******"
	}
	c.DB.DSN = "******"
	return c
}
