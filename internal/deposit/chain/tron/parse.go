package tron

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/proto"
	"tronex.com/internal/deposit/domain"
)

// 主网 USDT 合约
const MainnetUSDT = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

const (
	selectorTransfer     = "a9059cbb" // transfer(address,uint256)
	selectorTransferFrom = "23b872dd" // transferFrom(address,address,uint256)
	wordSize             = 32

	addressPrefix = 0x41
)

// Parser 把节点返回的块翻译成 StandardBlock，只保留我们关心的转账
type Parser struct {
	usdtContract string
	watchNative  bool
}

func NewParser(usdtContract string, watchNative bool) *Parser {
	if usdtContract == "" {
		usdtContract = MainnetUSDT
	}
	return &Parser{usdtContract: usdtContract, watchNative: watchNative}
}

func (p *Parser) ParseBlock(b *api.BlockExtention) (*domain.StandardBlock, error) {
	if b == nil || b.BlockHeader == nil || b.BlockHeader.RawData == nil {
		return nil, fmt.Errorf("tron: empty block header")
	}
	raw := b.BlockHeader.RawData
	block := &domain.StandardBlock{
		Height:   raw.Number,
		Hash:     hex.EncodeToString(b.Blockid),
		PrevHash: hex.EncodeToString(raw.ParentHash),
		Time:     raw.Timestamp,
	}
	for _, ext := range b.Transactions {
		transfer, ok := p.parseTx(ext)
		if !ok {
			continue
		}
		transfer.BlockHeight = block.Height
		block.Transactions = append(block.Transactions, *transfer)
	}
	return block, nil
}

func (p *Parser) parseTx(ext *api.TransactionExtention) (*domain.ChainTransfer, bool) {
	if ext == nil || ext.Transaction == nil || ext.Transaction.RawData == nil {
		return nil, false
	}
	tx := ext.Transaction
	if len(tx.RawData.Contract) == 0 || !succeeded(tx) {
		return nil, false
	}
	contract := tx.RawData.Contract[0]
	if contract.Parameter == nil {
		return nil, false
	}
	txHash := hex.EncodeToString(ext.Txid)

	switch contract.Type {
	case core.Transaction_Contract_TriggerSmartContract:
		var trigger core.TriggerSmartContract
		if err := proto.Unmarshal(contract.Parameter.Value, &trigger); err != nil {
			return nil, false
		}
		contractAddr := address.Address(trigger.ContractAddress).String()
		if contractAddr != p.usdtContract {
			return nil, false
		}
		to, amount, ok := decodeTRC20(trigger.Data)
		if !ok {
			return nil, false
		}
		return &domain.ChainTransfer{
			TxHash:      txHash,
			FromAddress: address.Address(trigger.OwnerAddress).String(),
			ToAddress:   to,
			Contract:    contractAddr,
			Symbol:      domain.SymbolUSDT,
			Amount:      decimal.NewFromBigInt(amount, -domain.TronDecimals),
		}, true

	case core.Transaction_Contract_TransferContract:
		if !p.watchNative {
			return nil, false
		}
		var transfer core.TransferContract
		if err := proto.Unmarshal(contract.Parameter.Value, &transfer); err != nil {
			return nil, false
		}
		return &domain.ChainTransfer{
			TxHash:      txHash,
			FromAddress: address.Address(transfer.OwnerAddress).String(),
			ToAddress:   address.Address(transfer.ToAddress).String(),
			Symbol:      domain.SymbolTRX,
			Amount:      decimal.New(transfer.Amount, -domain.TronDecimals),
		}, true
	}
	return nil, false
}

// succeeded 没有执行结果的按成功处理，和节点返回保持一致
func succeeded(tx *core.Transaction) bool {
	if len(tx.Ret) == 0 {
		return true
	}
	switch tx.Ret[0].ContractRet {
	case core.Transaction_Result_DEFAULT, core.Transaction_Result_SUCCESS:
		return true
	}
	return false
}

// decodeTRC20 解析 transfer / transferFrom 的收款地址和金额（最小单位）
func decodeTRC20(data []byte) (string, *big.Int, bool) {
	if len(data) < 4 {
		return "", nil, false
	}
	var toWord, amountWord []byte
	args := data[4:]
	switch hex.EncodeToString(data[:4]) {
	case selectorTransfer:
		if len(args) < 2*wordSize {
			return "", nil, false
		}
		toWord, amountWord = args[:wordSize], args[wordSize:2*wordSize]
	case selectorTransferFrom:
		if len(args) < 3*wordSize {
			return "", nil, false
		}
		toWord, amountWord = args[wordSize:2*wordSize], args[2*wordSize:3*wordSize]
	default:
		return "", nil, false
	}
	to := make([]byte, 0, 21)
	to = append(to, addressPrefix)
	to = append(to, toWord[12:]...)
	amount := new(big.Int).SetBytes(amountWord)
	if amount.Sign() <= 0 {
		return "", nil, false
	}
	return address.Address(to).String(), amount, true
}
