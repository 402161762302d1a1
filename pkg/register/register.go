package register

import "context"

// Instance 注册中心里的一条服务实例
type Instance struct {
	ID       string            `json:"id"`   // 简单用 ip:port
	Name     string            `json:"name"` // 服务名，eg: "deposit-service"
	Addr     string            `json:"addr"`
	MetaData map[string]string `json:"metadata,omitempty"`
}

type Register interface {
	Register(ctx context.Context, ins *Instance) error
	UnRegister(ctx context.Context, ins *Instance) error
}
