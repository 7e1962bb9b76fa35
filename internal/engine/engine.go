// Package engine wires the protocol components into the operations reporters,
// governance and readers call.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/holiman/uint256"
	"gorm.io/gorm"

	"threatmesh/internal/commitment"
	"threatmesh/internal/consensus"
	"threatmesh/internal/domain"
	"threatmesh/internal/governance"
	"threatmesh/internal/ledger"
	"threatmesh/internal/reveal"
	"threatmesh/internal/stake"
	"threatmesh/internal/whitelist"
)

type RejectHook func(op ledger.Op, err error)

type options struct {
	params    domain.ParamsSource
	balances  stake.BalanceSource
	authority *governance.Authority
	publisher ledger.Publisher
	onReject  RejectHook
}

type Option func(*options)

func WithParams(params domain.ParamsSource) Option {
	return func(o *options) { o.params = params }
}

// WithBalances replaces the stake_balances table as the balance source.
func WithBalances(source stake.BalanceSource) Option {
	return func(o *options) { o.balances = source }
}

func WithAuthority(authority *governance.Authority) Option {
	return func(o *options) { o.authority = authority }
}

func WithPublisher(publisher ledger.Publisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// WithRejectHook is called for every write that fails.
func WithRejectHook(hook RejectHook) Option {
	return func(o *options) { o.onReject = hook }
}

type Engine struct {
	ledger      *ledger.Ledger
	params      domain.ParamsSource
	gate        *stake.Gate
	commitments *commitment.Store
	registry    *whitelist.Registry
	tracker     *consensus.Tracker
	reveals     *reveal.Processor
	governance  *governance.Override
	onReject    RejectHook
}

func New(ctx context.Context, db *gorm.DB, opts ...Option) (*Engine, error) {
	o := options{
		params:    domain.StaticParams(domain.DefaultParams()),
		balances:  stake.DBBalances{},
		authority: governance.NewAuthority(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	l, err := ledger.New(ctx, db, o.publisher)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		ledger:      l,
		params:      o.params,
		gate:        stake.NewGate(o.balances, o.params),
		commitments: commitment.NewStore(),
		registry:    whitelist.NewRegistry(),
		tracker:     consensus.NewTracker(o.params),
		onReject:    o.onReject,
	}
	e.reveals = reveal.NewProcessor(e.gate, e.commitments, e.registry, e.tracker, o.params)
	e.governance = governance.NewOverride(l, o.authority, e.registry, e.tracker)
	return e, nil
}

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

func (e *Engine) Params() domain.Params { return e.params().Normalized() }

func (e *Engine) Height() uint64 { return e.ledger.Height() }

// SeedWhitelist protects addresses on a fresh database.
func (e *Engine) SeedWhitelist(ctx context.Context, addresses []string) error {
	return e.registry.Seed(ctx, e.ledger, addresses)
}

func (e *Engine) rejected(op ledger.Op, caller string, err error) error {
	if err == nil {
		return nil
	}
	log.Debug("Operation rejected", "op", op, "caller", caller, "code", domain.ErrorCode(err), "error", err)
	if e.onReject != nil {
		e.onReject(op, err)
	}
	return err
}

// CommitThreatEvidence publishes the hash of a target address. The returned
// key is what the reporter reveals against later.
func (e *Engine) CommitThreatEvidence(ctx context.Context, caller domain.Caller, ipHash domain.Hash, salt string) (domain.Hash, uint64, error) {
	var key domain.Hash
	seq, err := e.ledger.Apply(ctx, ledger.OpCommit, caller.ID, func(tx *ledger.Tx) error {
		if err := e.gate.CheckEligible(tx, caller.ID); err != nil {
			return err
		}
		var err error
		key, err = e.commitments.Commit(tx, ipHash, salt, caller.ID)
		return err
	})
	if err != nil {
		return domain.Hash{}, 0, e.rejected(ledger.OpCommit, caller.ID, err)
	}
	return key, seq, nil
}

// RevealThreatEvidence discloses the address behind an earlier commitment
// together with the evidence.
func (e *Engine) RevealThreatEvidence(ctx context.Context, caller domain.Caller, address, salt string, ev reveal.Evidence) (*domain.ThreatStatus, error) {
	var status *domain.ThreatStatus
	_, err := e.ledger.Apply(ctx, ledger.OpReveal, caller.ID, func(tx *ledger.Tx) error {
		var err error
		status, err = e.reveals.Reveal(tx, address, salt, ev, caller.ID)
		return err
	})
	if err != nil {
		return nil, e.rejected(ledger.OpReveal, caller.ID, err)
	}
	return status, nil
}

// RevokeThreatReport retracts the caller's report while the address is still
// unconfirmed.
func (e *Engine) RevokeThreatReport(ctx context.Context, caller domain.Caller, address string) (*domain.ThreatStatus, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return nil, e.rejected(ledger.OpRevoke, caller.ID, err)
	}

	var status *domain.ThreatStatus
	_, err = e.ledger.Apply(ctx, ledger.OpRevoke, caller.ID, func(tx *ledger.Tx) error {
		var err error
		status, err = e.tracker.Revoke(tx, canonical, caller.ID)
		return err
	})
	if err != nil {
		return nil, e.rejected(ledger.OpRevoke, caller.ID, err)
	}
	return status, nil
}

func (e *Engine) ForceConfirm(ctx context.Context, caller domain.Caller, address string) (uint64, error) {
	seq, err := e.governance.ForceConfirm(ctx, caller, address)
	return seq, e.rejected(ledger.OpForceConfirm, caller.ID, err)
}

func (e *Engine) ForceRevoke(ctx context.Context, caller domain.Caller, address string) (uint64, error) {
	seq, err := e.governance.ForceRevoke(ctx, caller, address)
	return seq, e.rejected(ledger.OpForceRevoke, caller.ID, err)
}

func (e *Engine) AddToWhitelist(ctx context.Context, caller domain.Caller, address string) (uint64, error) {
	seq, err := e.governance.AddToWhitelist(ctx, caller, address)
	return seq, e.rejected(ledger.OpWhitelistAdd, caller.ID, err)
}

func (e *Engine) RemoveFromWhitelist(ctx context.Context, caller domain.Caller, address string) (uint64, error) {
	seq, err := e.governance.RemoveFromWhitelist(ctx, caller, address)
	return seq, e.rejected(ledger.OpWhitelistRemove, caller.ID, err)
}

func (e *Engine) SetStake(ctx context.Context, caller domain.Caller, reporterID string, amount *uint256.Int) (uint64, error) {
	seq, err := e.governance.SetStake(ctx, caller, reporterID, amount)
	return seq, e.rejected(ledger.OpSetStake, caller.ID, err)
}

func (e *Engine) GovernanceAudit(ctx context.Context, caller domain.Caller, since uint64, limit int) ([]domain.LedgerEntry, error) {
	return e.governance.Audit(ctx, caller, since, limit)
}

func (e *Engine) IsWhitelisted(ctx context.Context, address string) (bool, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return false, err
	}
	return e.registry.IsWhitelisted(e.ledger.DB(ctx), canonical)
}

func (e *Engine) Whitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	return e.registry.List(e.ledger.DB(ctx))
}

func (e *Engine) GetThreatStatus(ctx context.Context, address string) (*domain.ThreatStatus, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return nil, err
	}
	return e.tracker.Status(e.ledger.DB(ctx), canonical)
}

// GetEvidenceCount counts evidence that has not been revoked.
func (e *Engine) GetEvidenceCount(ctx context.Context, address string) (uint64, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return 0, err
	}
	n, err := e.tracker.EvidenceCount(e.ledger.DB(ctx), canonical)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (e *Engine) Evidence(ctx context.Context, address string) ([]domain.EvidenceRecord, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return nil, err
	}
	return e.tracker.Evidence(e.ledger.DB(ctx), canonical)
}

func (e *Engine) HasAddressReported(ctx context.Context, address, reporterID string) (bool, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return false, err
	}
	return e.tracker.HasReported(e.ledger.DB(ctx), canonical, reporterID)
}

func (e *Engine) IsValidCommitment(ctx context.Context, key domain.Hash) (bool, error) {
	return e.commitments.IsValid(e.ledger.DB(ctx), key)
}

func (e *Engine) IsCommitmentRevealed(ctx context.Context, key domain.Hash) (bool, error) {
	return e.commitments.IsRevealed(e.ledger.DB(ctx), key)
}

// Commitment loads a commitment, or returns nil when the key is unknown.
func (e *Engine) Commitment(ctx context.Context, key domain.Hash) (*domain.Commitment, error) {
	c, err := e.commitments.Get(e.ledger.DB(ctx), key)
	if errors.Is(err, domain.ErrCommitmentNotFound) {
		return nil, nil
	}
	return c, err
}

// ConfirmedThreats lists every address currently confirmed.
func (e *Engine) ConfirmedThreats(ctx context.Context) ([]domain.ThreatStatus, error) {
	return e.tracker.Confirmed(e.ledger.DB(ctx))
}

// Tick advances the ledger by one empty step.
func (e *Engine) Tick(ctx context.Context) (uint64, error) {
	seq, err := e.ledger.Tick(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: tick: %w", err)
	}
	return seq, nil
}
