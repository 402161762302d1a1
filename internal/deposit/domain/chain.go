package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChainTransfer 通用的链上转账模型
type ChainTransfer struct {
	TxHash      string          // 统一成小写无 0x
	BlockHeight int64           // 块的高度
	FromAddress string          // 地址来源
	ToAddress   string          // base58 地址
	Contract    string          // TRC20 合约地址，原生币为空
	Symbol      string          // 币的种类
	Amount      decimal.Decimal // 已按精度换算
}

// StandardBlock 屏蔽底层链差异
type StandardBlock struct {
	Height       int64
	Hash         string
	PrevHash     string
	Time         int64 // 毫秒
	Transactions []ChainTransfer
}

// ChainAdapter 扫块只依赖这两个方法
type ChainAdapter interface {
	GetBlockHeight(ctx context.Context) (int64, error)
	FetchBlock(ctx context.Context, height int64) (*StandardBlock, error)
}
