package service

import "tronex.com/internal/deposit/domain"

// Store 服务层依赖的持久化能力，repo.Repo 实现
type Store interface {
	domain.Transactor
	domain.AddressRepo
	domain.DepositRepo
	domain.BalanceRepo
	domain.CheckpointRepo
}

// Deriver 只暴露地址派生，私钥不出 hdwallet
type Deriver interface {
	DeriveAddress(index uint32) (string, error)
}
