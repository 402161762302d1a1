// 钱包功能
package hdwallet

import (
	"crypto/ecdsa"
	"errors"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/tyler-smith/go-bip39"
)

// SLIP-44 币种编号
const CoinTypeTRON uint32 = 195

var (
	ErrEmptyMnemonic   = errors.New("hdwallet: mnemonic cannot be empty")
	ErrInvalidMnemonic = errors.New("hdwallet: mnemonic failed bip39 checksum")
)

// HDWallet 只持有账户级扩展私钥 m/44'/195'/0'/0
// 派生出来的私钥不落盘、不缓存
type HDWallet struct {
	external *hdkeychain.ExtendedKey
}

// NewTron 由助记词生成 TRON 钱包
// 助记词为空或校验失败直接报错，不派生任何地址
func NewTron(mnemonic string) (*HDWallet, error) {
	if mnemonic == "" {
		return nil, ErrEmptyMnemonic
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")
	// TRON 地址和比特币网络参数无关，这里只用来生成扩展私钥
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	// BIP44 路径: m / 44' / 195' / 0' / 0 / index
	path := []uint32{
		44 + hdkeychain.HardenedKeyStart,
		CoinTypeTRON + hdkeychain.HardenedKeyStart,
		0 + hdkeychain.HardenedKeyStart, // Account
		0,                               // External chain
	}
	key := master
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, err
		}
	}
	return &HDWallet{external: key}, nil
}

// DeriveAddress 只返回地址，充值流程只用这个
func (w *HDWallet) DeriveAddress(index uint32) (string, error) {
	pub, err := w.publicKey(index)
	if err != nil {
		return "", err
	}
	return address.PubkeyToAddress(*pub).String(), nil
}

// DeriveKey 出金签名时按需重新计算私钥，调用方用完即弃
func (w *HDWallet) DeriveKey(index uint32) (*ecdsa.PrivateKey, error) {
	child, err := w.external.Derive(index)
	if err != nil {
		return nil, err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return priv.ToECDSA(), nil
}

func (w *HDWallet) publicKey(index uint32) (*ecdsa.PublicKey, error) {
	child, err := w.external.Derive(index)
	if err != nil {
		return nil, err
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return nil, err
	}
	return pub.ToECDSA(), nil
}
