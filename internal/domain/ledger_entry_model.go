package domain

import "time"

// LedgerEntry is one step of the append-only sequential log. Seq doubles as the
// block height that reveal delays are measured in.
type LedgerEntry struct {
	Seq uint64 `gorm:"primaryKey;autoIncrement:false"`

	Op     string `gorm:"size:32;index;not null"`
	Actor  string `gorm:"size:128;not null;default:''"`
	Target string `gorm:"size:128;not null;default:''"`
	Detail string `gorm:"size:512;not null;default:''"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}
