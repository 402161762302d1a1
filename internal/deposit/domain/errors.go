package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrStateConflict     = errors.New("state conflict")
	ErrCheckpointRegress = errors.New("checkpoint height must move forward")
	ErrLeaseLost         = errors.New("scan lease held by another owner")
)

// NormalizeTxHash 统一成小写、去掉 0x，自报和扫块两条路径都走这里
func NormalizeTxHash(h string) string {
	h = strings.TrimSpace(h)
	if len(h) >= 2 && (h[:2] == "0x" || h[:2] == "0X") {
		h = h[2:]
	}
	return strings.ToLower(h)
}

// IsHexHash txid 是 32 字节
func IsHexHash(h string) bool {
	if len(h) != 64 {
		return false
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
