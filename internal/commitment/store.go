// Package commitment stores the first phase of the commit-reveal protocol.
// Only a hash of the target address is published, so nobody can copy an
// in-flight report before it is revealed.
package commitment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"threatmesh/internal/domain"
	"threatmesh/internal/events"
	"threatmesh/internal/ledger"
)

// DeriveKey computes keccak256(ipHash || uint64be(len(salt)) || salt || reporterID).
// The length prefix keeps (salt, reporter) pairs from colliding.
func DeriveKey(ipHash domain.Hash, salt, reporterID string) domain.Hash {
	var saltLen [8]byte
	binary.BigEndian.PutUint64(saltLen[:], uint64(len(salt)))
	return domain.Keccak256(ipHash[:], saltLen[:], []byte(salt), []byte(reporterID))
}

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Commit records a new commitment at the transition's sequence number.
func (s *Store) Commit(tx *ledger.Tx, ipHash domain.Hash, salt, reporterID string) (domain.Hash, error) {
	if ipHash.IsZero() {
		return domain.Hash{}, fmt.Errorf("commitment: %w: zero address hash", domain.ErrInvalidEvidence)
	}
	if salt == "" {
		return domain.Hash{}, fmt.Errorf("commitment: %w: empty salt", domain.ErrInvalidEvidence)
	}

	key := DeriveKey(ipHash, salt, reporterID)

	exists, err := s.exists(tx.DB, key)
	if err != nil {
		return domain.Hash{}, err
	}
	if exists {
		return domain.Hash{}, fmt.Errorf("commitment: %w: %s", domain.ErrDuplicateCommitment, key)
	}

	row := domain.Commitment{
		Key:          key.Hex(),
		IPHash:       ipHash.Hex(),
		ReporterID:   reporterID,
		CreatedAtSeq: tx.Seq,
	}
	if err := tx.DB.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Hash{}, fmt.Errorf("commitment: %w: %s", domain.ErrDuplicateCommitment, key)
		}
		return domain.Hash{}, fmt.Errorf("commitment: create %s: %w", key, err)
	}

	tx.SetTarget(key.Hex())
	tx.Emit(events.ThreatCommitted(key.Hex(), reporterID))
	return key, nil
}

func (s *Store) exists(db *gorm.DB, key domain.Hash) (bool, error) {
	var count int64
	if err := db.Model(&domain.Commitment{}).Where("key = ?", key.Hex()).Count(&count).Error; err != nil {
		return false, fmt.Errorf("commitment: lookup %s: %w", key, err)
	}
	return count > 0, nil
}

// Get loads a commitment or fails with ErrCommitmentNotFound.
func (s *Store) Get(db *gorm.DB, key domain.Hash) (*domain.Commitment, error) {
	var row domain.Commitment
	err := db.Where("key = ?", key.Hex()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("commitment: %w: %s", domain.ErrCommitmentNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("commitment: load %s: %w", key, err)
	}
	return &row, nil
}

// MarkRevealed moves a commitment from Committed to Revealed. The conditional
// update makes a concurrent second reveal fail instead of overwriting.
func (s *Store) MarkRevealed(tx *ledger.Tx, c *domain.Commitment) error {
	res := tx.DB.Model(&domain.Commitment{}).
		Where("id = ? AND revealed = ?", c.ID, false).
		Updates(map[string]any{"revealed": true, "revealed_at_seq": tx.Seq})
	if res.Error != nil {
		return fmt.Errorf("commitment: mark revealed %s: %w", c.Key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("commitment: %w: %s", domain.ErrAlreadyRevealed, c.Key)
	}
	c.Revealed = true
	c.RevealedAtSeq = tx.Seq
	return nil
}

// IsValid reports whether key was ever committed.
func (s *Store) IsValid(db *gorm.DB, key domain.Hash) (bool, error) {
	return s.exists(db, key)
}

// IsRevealed reports whether key exists and has been revealed.
func (s *Store) IsRevealed(db *gorm.DB, key domain.Hash) (bool, error) {
	c, err := s.Get(db, key)
	if errors.Is(err, domain.ErrCommitmentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Revealed, nil
}
