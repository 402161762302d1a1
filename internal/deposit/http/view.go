package http

import (
	"encoding/base64"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"tronex.com/internal/deposit/domain"
)

type startDepositReq struct {
	UserID string `json:"userId"`
}

type startDepositResp struct {
	UserID  string `json:"userId"`
	Address string `json:"address"`
	QRCode  string `json:"qrCode"` // PNG data URL
}

type createDepositReq struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
	TxHash string          `json:"txHash"`
	Symbol string          `json:"symbol"`
}

// confirmReq 记录没有 txHash 时必须带上
type confirmReq struct {
	Operator string           `json:"operator"`
	TxHash   string           `json:"txHash"`
	Amount   *decimal.Decimal `json:"amount"`
}

type rejectReq struct {
	Operator string `json:"operator"`
	Reason   string `json:"reason"`
}

type depositView struct {
	ID             int64      `json:"id"`
	UserID         string     `json:"userId"`
	Symbol         string     `json:"symbol"`
	Amount         string     `json:"amount"`
	ObservedAmount string     `json:"observedAmount,omitempty"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	TxHash         string     `json:"txHash,omitempty"`
	Address        string     `json:"address"`
	BlockNumber    *int64     `json:"blockNumber,omitempty"`
	Note           string     `json:"note,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
	ConfirmedBy    string     `json:"confirmedBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func toDepositView(d *domain.DepositRecord) depositView {
	v := depositView{
		ID:          d.ID,
		UserID:      d.UserID,
		Symbol:      d.Symbol,
		Amount:      d.Amount.String(),
		Status:      string(d.Status),
		Source:      string(d.Source),
		Address:     d.Address,
		BlockNumber: d.BlockNumber,
		Note:        d.Note,
		ConfirmedAt: d.ConfirmedAt,
		ConfirmedBy: d.ConfirmedBy,
		CreatedAt:   d.CreatedAt,
	}
	if d.ObservedAmount.Valid {
		v.ObservedAmount = d.ObservedAmount.Decimal.String()
	}
	if d.TxHash != nil {
		v.TxHash = *d.TxHash
	}
	return v
}

func toDepositViews(list []*domain.DepositRecord) []depositView {
	out := make([]depositView, 0, len(list))
	for _, d := range list {
		out = append(out, toDepositView(d))
	}
	return out
}

// addressView 只有地址和 index，没有任何密钥字段
type addressView struct {
	UserID          string    `json:"userId"`
	Address         string    `json:"address"`
	DerivationIndex int64     `json:"derivationIndex"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toAddressView(a *domain.UserAddress) addressView {
	return addressView{UserID: a.UserID, Address: a.Address, DerivationIndex: a.DerivationIndex, CreatedAt: a.CreatedAt}
}

type balanceView struct {
	UserID    string `json:"userId"`
	Symbol    string `json:"symbol"`
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
}

type checkpointView struct {
	Chain           string     `json:"chain"`
	LastBlockHeight int64      `json:"lastBlockHeight"`
	LastBlockHash   string     `json:"lastBlockHash"`
	LastScanAt      *time.Time `json:"lastScanAt,omitempty"`
	IsScanning      bool       `json:"isScanning"`
	LeaseUntil      *time.Time `json:"leaseUntil,omitempty"`
}

type pageResp[T any] struct {
	List  []T   `json:"list"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

func qrDataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
