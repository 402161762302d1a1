package domain

const (
	ChainTron = "TRON"

	SymbolUSDT = "USDT"
	SymbolTRX  = "TRX"

	// TRC20 USDT 与 TRX 都是 6 位精度
	TronDecimals = 6
)

const (
	StreamDepositKey = "stream:deposit"
	GroupName        = "stream:group_reconcile"
)

const (
	SinkDirect = "direct"
	SinkStream = "stream"
)

// ConfirmedByScanner 扫块自动确认时 confirmedBy 的取值
const ConfirmedByScanner = "scanner"
