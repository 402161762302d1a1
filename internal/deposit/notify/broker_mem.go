package notify

import (
	"context"
	"sync"
)

// MemBroker 单进程部署和测试用
type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

var _ Broker = (*MemBroker)(nil)

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message)}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	list := b.subs[topic]
	b.mu.RUnlock()

	// fanout：at-most-once，慢订阅者直接丢
	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range list {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	ch := make(chan Message, 1024)
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(ch)
		close(ch)
	}()
	return ch, nil
}

func (b *MemBroker) unsubscribe(ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, list := range b.subs {
		kept := list[:0]
		for _, c := range list {
			if c != ch {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(b.subs, topic)
		} else {
			b.subs[topic] = kept
		}
	}
}

func (b *MemBroker) Close() error { return nil }
