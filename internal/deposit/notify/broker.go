package notify

import "context"

const (
	TopicCredited = "deposit:credited"
	TopicMismatch = "deposit:mismatch"
)

type Message struct {
	Topic   string
	Payload []byte
}

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// 订阅，ctx 取消后 channel 关闭
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}
