package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

// StakeBalance mirrors a reporter's token balance. Balance is a base-10
// string so the full 256-bit range survives every SQL dialect.
type StakeBalance struct {
	ReporterID   string `gorm:"primaryKey;size:128"`
	Balance      string `gorm:"size:80;not null;default:'0'"`
	UpdatedAtSeq uint64 `gorm:"not null;default:0"`
}

func (s StakeBalance) Amount() (*uint256.Int, error) {
	if s.Balance == "" {
		return uint256.NewInt(0), nil
	}
	amount, err := uint256.FromDecimal(s.Balance)
	if err != nil {
		return nil, fmt.Errorf("stake balance for %s: %w", s.ReporterID, err)
	}
	return amount, nil
}
