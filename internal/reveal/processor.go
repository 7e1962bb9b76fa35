// Package reveal validates the second phase of a report against its
// commitment and hands the evidence to the consensus tracker.
package reveal

import (
	"fmt"
	"strings"

	"threatmesh/internal/commitment"
	"threatmesh/internal/consensus"
	"threatmesh/internal/domain"
	"threatmesh/internal/events"
	"threatmesh/internal/ledger"
	"threatmesh/internal/stake"
	"threatmesh/internal/whitelist"
)

const (
	MaxCPULoadPercent = 100
	maxAttackTypeLen  = 128
	maxLogRefLen      = 512
)

// Evidence is what a reporter discloses about the attack it observed.
type Evidence struct {
	CPULoadPercent uint
	LogReference   string
	AttackType     string
	RiskScore      uint64
}

func (e Evidence) Validate() error {
	if e.CPULoadPercent > MaxCPULoadPercent {
		return fmt.Errorf("%w: CPU load out of range: %d", domain.ErrInvalidEvidence, e.CPULoadPercent)
	}
	attack := strings.TrimSpace(e.AttackType)
	if attack == "" {
		return fmt.Errorf("%w: empty attack type", domain.ErrInvalidEvidence)
	}
	if len(attack) > maxAttackTypeLen {
		return fmt.Errorf("%w: attack type longer than %d bytes", domain.ErrInvalidEvidence, maxAttackTypeLen)
	}
	if e.RiskScore > domain.MaxRiskScore {
		return fmt.Errorf("%w: risk score above %d: %d", domain.ErrInvalidEvidence, domain.MaxRiskScore, e.RiskScore)
	}
	if len(e.LogReference) > maxLogRefLen {
		return fmt.Errorf("%w: log reference longer than %d bytes", domain.ErrInvalidEvidence, maxLogRefLen)
	}
	return nil
}

type Processor struct {
	gate        *stake.Gate
	commitments *commitment.Store
	whitelist   *whitelist.Registry
	tracker     *consensus.Tracker
	params      domain.ParamsSource
}

func NewProcessor(
	gate *stake.Gate,
	commitments *commitment.Store,
	registry *whitelist.Registry,
	tracker *consensus.Tracker,
	params domain.ParamsSource,
) *Processor {
	if params == nil {
		params = domain.StaticParams(domain.DefaultParams())
	}
	return &Processor{
		gate:        gate,
		commitments: commitments,
		whitelist:   registry,
		tracker:     tracker,
		params:      params,
	}
}

// Reveal discloses address and salt for an earlier commitment. The checks run
// in a fixed order so each rejection is reported under the same kind no matter
// which other problems the call also has.
func (p *Processor) Reveal(tx *ledger.Tx, address, salt string, ev Evidence, reporterID string) (*domain.ThreatStatus, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return nil, fmt.Errorf("reveal: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("reveal: %w", err)
	}
	if err := p.gate.CheckEligible(tx, reporterID); err != nil {
		return nil, err
	}

	ipHash := domain.HashAddress(canonical)
	key := commitment.DeriveKey(ipHash, salt, reporterID)
	tx.SetTarget(canonical)

	c, err := p.commitments.Get(tx.DB, key)
	if err != nil {
		return nil, err
	}
	if c.Revealed {
		return nil, fmt.Errorf("reveal: %w: %s", domain.ErrAlreadyRevealed, key)
	}

	delay := p.params().RevealDelay
	if elapsed := tx.Seq - c.CreatedAtSeq; elapsed < delay {
		return nil, fmt.Errorf("reveal: %w: %d of %d steps elapsed", domain.ErrRevealTooEarly, elapsed, delay)
	}

	// The key already binds the hash and reporter, so a stored commitment
	// normally matches; this only catches rows written outside the store.
	if c.IPHash != ipHash.Hex() || c.ReporterID != reporterID {
		return nil, fmt.Errorf("reveal: %w: commitment %s", domain.ErrHashMismatch, key)
	}

	whitelisted, err := p.whitelist.IsWhitelisted(tx.DB, canonical)
	if err != nil {
		return nil, err
	}
	if whitelisted {
		return nil, fmt.Errorf("reveal: %w: %s", domain.ErrAddressWhitelisted, canonical)
	}

	reported, err := p.tracker.HasReported(tx.DB, canonical, reporterID)
	if err != nil {
		return nil, err
	}
	if reported {
		return nil, fmt.Errorf("reveal: %w: %s already reported %s", domain.ErrDuplicateReporter, reporterID, canonical)
	}

	if err := p.commitments.MarkRevealed(tx, c); err != nil {
		return nil, err
	}

	tx.Emit(events.LocalDefenseActive(canonical, reporterID))
	tx.Emit(events.ThreatRevealed(canonical, reporterID, salt))

	status, err := p.tracker.RecordEvidence(tx, domain.EvidenceRecord{
		Address:        canonical,
		ReporterID:     reporterID,
		RiskScore:      ev.RiskScore,
		AttackType:     strings.TrimSpace(ev.AttackType),
		LogReference:   ev.LogReference,
		CPULoadPercent: uint8(ev.CPULoadPercent),
		CommitmentKey:  key.Hex(),
	})
	if err != nil {
		return nil, err
	}

	tx.SetDetail("risk=%d attack=%s reports=%d", ev.RiskScore, strings.TrimSpace(ev.AttackType), status.ReportCount)
	return status, nil
}
