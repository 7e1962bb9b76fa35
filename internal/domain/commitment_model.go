package domain

import "time"

type CommitmentState string

const (
	CommitmentCommitted CommitmentState = "committed"
	CommitmentRevealed  CommitmentState = "revealed"
)

// Commitment is the hash a reporter publishes before revealing the address it
// covers. Rows are never deleted so used keys stay reserved.
type Commitment struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	// Key is hash(ipHash || salt || reporterID), hex encoded with 0x prefix.
	Key        string `gorm:"size:66;uniqueIndex;not null"`
	IPHash     string `gorm:"size:66;not null"`
	ReporterID string `gorm:"size:128;index;not null"`

	CreatedAtSeq  uint64 `gorm:"not null"`
	Revealed      bool   `gorm:"not null;default:false"`
	RevealedAtSeq uint64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (c Commitment) State() CommitmentState {
	if c.Revealed {
		return CommitmentRevealed
	}
	return CommitmentCommitted
}
