package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"tronex.com/pkg/logger"
)

// Load 只读取一次，不监听文件变化
// 约定：config/{service}.yaml，环境变量前缀 {SERVICE}_，例如 DEPOSIT_WALLET_MNEMONIC 覆盖 wallet.mnemonic
func Load(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	v := newViper(service, paths...)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadAndWatch 读取配置到 out 并监听文件变化
// out 只在启动时写一次，运行中可能被别的 goroutine 读，变更后不再回写
// onChange 拿到已经重读过的 viper，自己解到新对象里，可为 nil
func LoadAndWatch(service string, out interface{}, onChange func(v *viper.Viper), paths ...string) (*viper.Viper, error) {
	v, err := Load(service, out, paths...)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	logger.Info(ctx, "config loaded", zap.String("service", service), zap.String("file", v.ConfigFileUsed()))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(ctx, "config file changed", zap.String("file", e.Name))
		if onChange != nil {
			onChange(v)
		}
	})
	return v, nil
}

func newViper(service string, paths ...string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".") // 兜底，直接放当前目录也行

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
