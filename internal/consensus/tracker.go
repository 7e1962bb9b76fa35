// Package consensus keeps the per-address tally of revealed evidence and
// decides when an address becomes a confirmed network-wide threat.
package consensus

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"threatmesh/internal/domain"
	"threatmesh/internal/events"
	"threatmesh/internal/ledger"
)

type Tracker struct {
	params domain.ParamsSource
}

func NewTracker(params domain.ParamsSource) *Tracker {
	if params == nil {
		params = domain.StaticParams(domain.DefaultParams())
	}
	return &Tracker{params: params}
}

// RecordEvidence appends rec, adds the reporter to the address's dedup set and
// updates the tally. GlobalThreatConfirmed is emitted exactly once, on the
// transition that first satisfies the quorum.
func (t *Tracker) RecordEvidence(tx *ledger.Tx, rec domain.EvidenceRecord) (*domain.ThreatStatus, error) {
	if rec.RiskScore > domain.MaxRiskScore {
		return nil, fmt.Errorf("consensus: %w: risk score above %d: %d", domain.ErrInvalidEvidence, domain.MaxRiskScore, rec.RiskScore)
	}
	rec.ID = 0
	rec.RevealedAtSeq = tx.Seq
	if err := tx.DB.Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("consensus: append evidence for %s: %w", rec.Address, err)
	}

	mark := domain.ReporterMark{
		Address:      rec.Address,
		ReporterID:   rec.ReporterID,
		EvidenceID:   rec.ID,
		CreatedAtSeq: tx.Seq,
	}
	if err := tx.DB.Create(&mark).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("consensus: %w: %s already reported %s", domain.ErrDuplicateReporter, rec.ReporterID, rec.Address)
		}
		return nil, fmt.Errorf("consensus: mark reporter %s for %s: %w", rec.ReporterID, rec.Address, err)
	}

	status, err := t.load(tx.DB, rec.Address)
	if err != nil {
		return nil, err
	}
	total, carry := bits.Add64(status.TotalRiskScore, rec.RiskScore, 0)
	if carry != 0 || total > domain.MaxTotalRiskScore {
		return nil, fmt.Errorf("consensus: %w: total risk score of %s would overflow", domain.ErrInvalidEvidence, rec.Address)
	}
	status.ReportCount++
	status.TotalRiskScore = total
	status.UpdatedAtSeq = tx.Seq

	params := t.params().Normalized()
	if !status.Confirmed && status.ReportCount >= params.QuorumThreshold && status.TotalRiskScore >= params.MinTotalRiskScore {
		status.Confirmed = true
		status.ForceConfirmed = false
		status.ConfirmedAtSeq = tx.Seq
		status.Reason = rec.AttackType
		tx.Emit(events.GlobalThreatConfirmed(rec.Address, rec.AttackType))
		log.Info("Threat confirmed by quorum", "address", rec.Address, "reports", status.ReportCount, "total_risk", status.TotalRiskScore, "seq", tx.Seq)
	}

	if err := t.save(tx.DB, status); err != nil {
		return nil, err
	}
	return status, nil
}

// Revoke retracts the reporter's active report for address. It is only
// allowed while the address is unconfirmed.
func (t *Tracker) Revoke(tx *ledger.Tx, address, reporterID string) (*domain.ThreatStatus, error) {
	status, err := t.load(tx.DB, address)
	if err != nil {
		return nil, err
	}
	if status.Confirmed {
		return nil, fmt.Errorf("consensus: %w: %s", domain.ErrAlreadyConfirmed, address)
	}

	var mark domain.ReporterMark
	err = tx.DB.Where("address = ? AND reporter_id = ?", address, reporterID).Take(&mark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("consensus: %w: %s has no active report for %s", domain.ErrReportNotFound, reporterID, address)
	}
	if err != nil {
		return nil, fmt.Errorf("consensus: load report of %s for %s: %w", reporterID, address, err)
	}

	var rec domain.EvidenceRecord
	if err := tx.DB.Where("id = ?", mark.EvidenceID).Take(&rec).Error; err != nil {
		return nil, fmt.Errorf("consensus: load evidence %d: %w", mark.EvidenceID, err)
	}

	revocation := domain.Revocation{
		EvidenceID:   rec.ID,
		Address:      address,
		ReporterID:   reporterID,
		RevokedAtSeq: tx.Seq,
	}
	if err := tx.DB.Create(&revocation).Error; err != nil {
		return nil, fmt.Errorf("consensus: record revocation of evidence %d: %w", rec.ID, err)
	}
	if err := tx.DB.Delete(&mark).Error; err != nil {
		return nil, fmt.Errorf("consensus: drop reporter mark %d: %w", mark.ID, err)
	}

	if status.ReportCount > 0 {
		status.ReportCount--
	}
	if status.TotalRiskScore >= rec.RiskScore {
		status.TotalRiskScore -= rec.RiskScore
	} else {
		status.TotalRiskScore = 0
	}
	status.UpdatedAtSeq = tx.Seq
	if err := t.save(tx.DB, status); err != nil {
		return nil, err
	}

	tx.SetTarget(address)
	tx.SetDetail("evidence=%d risk=%d", rec.ID, rec.RiskScore)
	tx.Emit(events.ThreatReportRevoked(address, reporterID))
	return status, nil
}

// Confirm marks address confirmed regardless of the tally. It is the
// governance path; callers check authority and the whitelist first.
func (t *Tracker) Confirm(tx *ledger.Tx, address, reason string) (*domain.ThreatStatus, error) {
	status, err := t.load(tx.DB, address)
	if err != nil {
		return nil, err
	}
	if !status.Confirmed {
		status.ConfirmedAtSeq = tx.Seq
	}
	status.Confirmed = true
	status.ForceConfirmed = true
	status.Reason = reason
	status.UpdatedAtSeq = tx.Seq
	if err := t.save(tx.DB, status); err != nil {
		return nil, err
	}

	tx.SetTarget(address)
	tx.Emit(events.GlobalThreatConfirmed(address, reason))
	return status, nil
}

// Unconfirm clears the confirmed flag and leaves the tally untouched. The
// boolean reports whether the address was confirmed before the call.
func (t *Tracker) Unconfirm(tx *ledger.Tx, address string) (*domain.ThreatStatus, bool, error) {
	status, err := t.load(tx.DB, address)
	if err != nil {
		return nil, false, err
	}
	if !status.Confirmed {
		return status, false, nil
	}
	status.Confirmed = false
	status.ForceConfirmed = false
	status.ConfirmedAtSeq = 0
	status.Reason = ""
	status.UpdatedAtSeq = tx.Seq
	if err := t.save(tx.DB, status); err != nil {
		return nil, false, err
	}
	return status, true, nil
}

// Status returns the tally for address. Unknown addresses yield a zero status.
func (t *Tracker) Status(db *gorm.DB, address string) (*domain.ThreatStatus, error) {
	return t.load(db, address)
}

// HasReported reports whether reporterID holds an active report for address.
func (t *Tracker) HasReported(db *gorm.DB, address, reporterID string) (bool, error) {
	var count int64
	err := db.Model(&domain.ReporterMark{}).
		Where("address = ? AND reporter_id = ?", address, reporterID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("consensus: lookup reporter %s for %s: %w", reporterID, address, err)
	}
	return count > 0, nil
}

// EvidenceCount counts evidence for address that has not been revoked.
func (t *Tracker) EvidenceCount(db *gorm.DB, address string) (int64, error) {
	var count int64
	if err := activeEvidence(db, address).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("consensus: count evidence for %s: %w", address, err)
	}
	return count, nil
}

// Evidence lists the active evidence for address in reveal order.
func (t *Tracker) Evidence(db *gorm.DB, address string) ([]domain.EvidenceRecord, error) {
	var records []domain.EvidenceRecord
	if err := activeEvidence(db, address).Order("revealed_at_seq ASC, id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("consensus: list evidence for %s: %w", address, err)
	}
	return records, nil
}

// Confirmed lists every currently confirmed status.
func (t *Tracker) Confirmed(db *gorm.DB) ([]domain.ThreatStatus, error) {
	var statuses []domain.ThreatStatus
	if err := db.Where("confirmed = ?", true).Order("address ASC").Find(&statuses).Error; err != nil {
		return nil, fmt.Errorf("consensus: list confirmed: %w", err)
	}
	return statuses, nil
}

func activeEvidence(db *gorm.DB, address string) *gorm.DB {
	revoked := db.Session(&gorm.Session{NewDB: true}).Model(&domain.Revocation{}).Select("evidence_id")
	return db.Model(&domain.EvidenceRecord{}).
		Where("address = ?", address).
		Where("id NOT IN (?)", revoked)
}

func (t *Tracker) load(db *gorm.DB, address string) (*domain.ThreatStatus, error) {
	var status domain.ThreatStatus
	err := db.Where("address = ?", address).Take(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.ThreatStatus{Address: address}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consensus: load status of %s: %w", address, err)
	}
	return &status, nil
}

func (t *Tracker) save(db *gorm.DB, status *domain.ThreatStatus) error {
	if err := db.Save(status).Error; err != nil {
		return fmt.Errorf("consensus: save status of %s: %w", status.Address, err)
	}
	return nil
}
