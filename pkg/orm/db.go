package orm

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver      string `mapstructure:"driver"`      // mysql / postgres，默认 mysql
	DSN         string `mapstructure:"dsn"`         // 连接字符串
	MaxIdle     int    `mapstructure:"maxIdle"`     // 最大空闲连接
	MaxOpen     int    `mapstructure:"maxOpen"`     // 最大打开连接
	MaxLifetime int    `mapstructure:"maxLifetime"` // 连接存活秒数
	LogLevel    string `mapstructure:"logLevel"`    // silent / error / warn / info
}

// NewDB 初始化 GORM
// TranslateError 打开后唯一索引冲突统一返回 gorm.ErrDuplicatedKey，上层靠它做乐观重试
func NewDB(c *Config) (*gorm.DB, error) {
	dialector, err := dialectorOf(c)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(ParseLogLevel(c.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 连接池
	if c.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdle)
	}
	if c.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpen)
	}
	if c.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)
	}
	return db, nil
}

func dialectorOf(c *Config) (gorm.Dialector, error) {
	switch strings.ToLower(c.Driver) {
	case "", DriverMySQL:
		dsn, err := NormalizeMySQLDSN(c.DSN)
		if err != nil {
			return nil, err
		}
		return gormmysql.Open(dsn), nil
	case DriverPostgres, "pgx":
		return postgres.Open(c.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", c.Driver)
	}
}

// NormalizeMySQLDSN 强制 parseTime，否则 confirmed_at 之类的字段扫不进 time.Time
func NormalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}

func ParseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
