package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"
	"tronex.com/internal/deposit/domain"
)

// DepositEvent 对外的充值事件，只有账本字段
type DepositEvent struct {
	DepositID      int64  `json:"depositId"`
	UserID         string `json:"userId"`
	Symbol         string `json:"symbol"`
	Amount         string `json:"amount"`
	ObservedAmount string `json:"observedAmount,omitempty"`
	TxHash         string `json:"txHash,omitempty"`
	Address        string `json:"address,omitempty"`
	BlockNumber    int64  `json:"blockNumber,omitempty"`
	Status         string `json:"status"`
	Source         string `json:"source"`
	ConfirmedBy    string `json:"confirmedBy,omitempty"`
	At             int64  `json:"at"` // 毫秒
}

// Notifier 实现 service.Notifier，把入账/对不上的结果发到 broker
type Notifier struct {
	broker Broker
	now    func() time.Time
}

func NewNotifier(b Broker) *Notifier {
	return &Notifier{broker: b, now: time.Now}
}

func (n *Notifier) Credited(ctx context.Context, d *domain.DepositRecord) error {
	return n.publish(ctx, TopicCredited, n.event(d))
}

// Mismatch 链上金额以候选事件为准
func (n *Notifier) Mismatch(ctx context.Context, d *domain.DepositRecord, ev *domain.CandidateEvent) error {
	e := n.event(d)
	if ev != nil {
		e.ObservedAmount = ev.Amount.String()
		e.TxHash = ev.TxHash
		e.BlockNumber = ev.BlockNumber
	}
	return n.publish(ctx, TopicMismatch, e)
}

func (n *Notifier) event(d *domain.DepositRecord) DepositEvent {
	e := DepositEvent{
		DepositID:   d.ID,
		UserID:      d.UserID,
		Symbol:      d.Symbol,
		Amount:      d.Amount.String(),
		Address:     d.Address,
		Status:      string(d.Status),
		Source:      string(d.Source),
		ConfirmedBy: d.ConfirmedBy,
		At:          n.now().UnixMilli(),
	}
	if d.ObservedAmount.Valid {
		e.ObservedAmount = d.ObservedAmount.Decimal.String()
	}
	if d.TxHash != nil {
		e.TxHash = *d.TxHash
	}
	if d.BlockNumber != nil {
		e.BlockNumber = *d.BlockNumber
	}
	return e
}

func (n *Notifier) publish(ctx context.Context, topic string, e DepositEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	if err := n.broker.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
