package domain

import (
	"math"
	"time"
)

// MaxRiskScore bounds a single report's risk score.
const MaxRiskScore uint64 = 1_000_000

// MaxTotalRiskScore bounds an address's running total so it fits a signed
// 64-bit column.
const MaxTotalRiskScore uint64 = math.MaxInt64

// EvidenceRecord is the immutable result of a successful reveal.
type EvidenceRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Address    string `gorm:"size:45;index;not null"`
	ReporterID string `gorm:"size:128;index;not null"`

	RiskScore      uint64 `gorm:"not null"`
	AttackType     string `gorm:"size:128;not null"`
	LogReference   string `gorm:"size:512;not null;default:''"`
	CPULoadPercent uint8  `gorm:"not null"`

	CommitmentKey string `gorm:"size:66;not null"`
	RevealedAtSeq uint64 `gorm:"not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// ReporterMark is one element of an address's reporter dedup set. The unique
// index is what turns concurrent reveals for the same pair into
// first-writer-wins.
type ReporterMark struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Address    string `gorm:"size:45;not null;uniqueIndex:idx_reporter_marks_pair"`
	ReporterID string `gorm:"size:128;not null;uniqueIndex:idx_reporter_marks_pair"`
	EvidenceID uint64 `gorm:"not null"`

	CreatedAtSeq uint64 `gorm:"not null"`
}

// Revocation records a reporter retracting its evidence before confirmation.
type Revocation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	EvidenceID   uint64 `gorm:"uniqueIndex;not null"`
	Address      string `gorm:"size:45;index;not null"`
	ReporterID   string `gorm:"size:128;not null"`
	RevokedAtSeq uint64 `gorm:"not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}
