package etcd

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"tronex.com/pkg/logger"
	"tronex.com/pkg/register"
)

type Config struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	BasePath    string        `mapstructure:"basePath"` // 比如 "/tronex/services"
	TTL         int64         `mapstructure:"ttl"`      // 租约秒数
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
}

// Enabled 没配 endpoints 就不注册
func (c Config) Enabled() bool { return len(c.Endpoints) > 0 }

func NewClient(c Config) (*clientv3.Client, error) {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   c.Endpoints,
		DialTimeout: timeout,
	})
}

type EtcdRegister struct {
	client   *clientv3.Client
	basePath string
	ttl      int64
	leaseID  clientv3.LeaseID
}

var _ register.Register = (*EtcdRegister)(nil)

func NewEtcdRegister(c *clientv3.Client, basePath string, ttl int64) *EtcdRegister {
	if basePath == "" {
		basePath = "/tronex/services"
	}
	if ttl <= 0 {
		ttl = 10
	}
	return &EtcdRegister{client: c, basePath: basePath, ttl: ttl}
}

func instanceKey(basePath string, ins *register.Instance) string {
	return fmt.Sprintf("%s/%s/%s", basePath, ins.Name, ins.ID)
}

// Register 带租约写入，进程退出或心跳断了 key 自动过期
func (e *EtcdRegister) Register(ctx context.Context, ins *register.Instance) error {
	grant, err := e.client.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	e.leaseID = grant.ID

	val, err := json.Marshal(ins)
	if err != nil {
		return err
	}
	if _, err := e.client.Put(ctx, instanceKey(e.basePath, ins), string(val), clientv3.WithLease(e.leaseID)); err != nil {
		return fmt.Errorf("put instance: %w", err)
	}

	ch, err := e.client.KeepAlive(ctx, e.leaseID)
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	go e.drainKeepAlive(ctx, ins, ch)
	logger.Info(ctx, "service registered", zap.String("key", instanceKey(e.basePath, ins)), zap.Int64("ttl", e.ttl))
	return nil
}

func (e *EtcdRegister) UnRegister(ctx context.Context, ins *register.Instance) error {
	if _, err := e.client.Delete(ctx, instanceKey(e.basePath, ins)); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if _, err := e.client.Revoke(ctx, e.leaseID); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}

// drainKeepAlive 续约响应必须读掉，channel 关闭说明租约丢了
func (e *EtcdRegister) drainKeepAlive(ctx context.Context, ins *register.Instance, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					logger.Warn(ctx, "etcd lease keepalive closed", zap.String("instance", ins.ID))
				}
				return
			}
		}
	}
}
