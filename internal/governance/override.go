package governance

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/holiman/uint256"

	"threatmesh/internal/consensus"
	"threatmesh/internal/domain"
	"threatmesh/internal/events"
	"threatmesh/internal/ledger"
	"threatmesh/internal/stake"
	"threatmesh/internal/whitelist"
)

const (
	ForceRevokeReason = "Governance Force Revoke"
	WhitelistReason   = "Whitelisted by governance"
)

// Override runs every privileged operation as its own ledger transition. The
// authority check happens inside the transition so a revoked member cannot
// slip a call in between check and write.
type Override struct {
	ledger    *ledger.Ledger
	authority *Authority
	registry  *whitelist.Registry
	tracker   *consensus.Tracker
}

func NewOverride(l *ledger.Ledger, authority *Authority, registry *whitelist.Registry, tracker *consensus.Tracker) *Override {
	return &Override{ledger: l, authority: authority, registry: registry, tracker: tracker}
}

func (o *Override) apply(ctx context.Context, op ledger.Op, caller domain.Caller, fn func(tx *ledger.Tx, capability Capability) error) (uint64, error) {
	seq, err := o.ledger.Apply(ctx, op, caller.ID, func(tx *ledger.Tx) error {
		capability, err := o.authority.Authorize(caller)
		if err != nil {
			return err
		}
		return fn(tx, capability)
	})
	if err != nil {
		log.Warn("Governance action rejected", "op", op, "caller", caller.ID, "error", err)
		return 0, err
	}
	log.Info("Governance action applied", "op", op, "caller", caller.ID, "seq", seq)
	return seq, nil
}

// ForceConfirm confirms address without quorum. Whitelisted addresses stay
// protected.
func (o *Override) ForceConfirm(ctx context.Context, caller domain.Caller, address string) (uint64, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return 0, fmt.Errorf("governance: %w", err)
	}
	return o.apply(ctx, ledger.OpForceConfirm, caller, func(tx *ledger.Tx, capability Capability) error {
		whitelisted, err := o.registry.IsWhitelisted(tx.DB, canonical)
		if err != nil {
			return err
		}
		if whitelisted {
			return fmt.Errorf("governance: %w: %s", domain.ErrAddressWhitelisted, canonical)
		}
		if _, err := o.tracker.Confirm(tx, canonical, domain.ForceConfirmReason); err != nil {
			return err
		}
		tx.SetDetail("by=%s reason=%s", capability.Holder(), domain.ForceConfirmReason)
		return nil
	})
}

// ForceRevoke clears the confirmed flag regardless of the report count.
func (o *Override) ForceRevoke(ctx context.Context, caller domain.Caller, address string) (uint64, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return 0, fmt.Errorf("governance: %w", err)
	}
	return o.apply(ctx, ledger.OpForceRevoke, caller, func(tx *ledger.Tx, capability Capability) error {
		_, was, err := o.tracker.Unconfirm(tx, canonical)
		if err != nil {
			return err
		}
		tx.SetTarget(canonical)
		tx.SetDetail("by=%s was_confirmed=%t", capability.Holder(), was)
		if was {
			tx.Emit(events.GlobalThreatRevoked(canonical, ForceRevokeReason))
		}
		return nil
	})
}

// AddToWhitelist protects address. A confirmed address loses its
// confirmation so denylist consumers drop it.
func (o *Override) AddToWhitelist(ctx context.Context, caller domain.Caller, address string) (uint64, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return 0, fmt.Errorf("governance: %w", err)
	}
	return o.apply(ctx, ledger.OpWhitelistAdd, caller, func(tx *ledger.Tx, capability Capability) error {
		if err := o.registry.Set(tx, canonical, true); err != nil {
			return err
		}
		_, was, err := o.tracker.Unconfirm(tx, canonical)
		if err != nil {
			return err
		}
		if was {
			tx.Emit(events.GlobalThreatRevoked(canonical, WhitelistReason))
		}
		tx.SetDetail("by=%s cleared_confirmation=%t", capability.Holder(), was)
		return nil
	})
}

func (o *Override) RemoveFromWhitelist(ctx context.Context, caller domain.Caller, address string) (uint64, error) {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return 0, fmt.Errorf("governance: %w", err)
	}
	return o.apply(ctx, ledger.OpWhitelistRemove, caller, func(tx *ledger.Tx, capability Capability) error {
		if err := o.registry.Set(tx, canonical, false); err != nil {
			return err
		}
		tx.SetDetail("by=%s", capability.Holder())
		return nil
	})
}

// SetStake records a reporter balance. It stands in for the external token
// contract when the engine runs on its own.
func (o *Override) SetStake(ctx context.Context, caller domain.Caller, reporterID string, amount *uint256.Int) (uint64, error) {
	return o.apply(ctx, ledger.OpSetStake, caller, func(tx *ledger.Tx, _ Capability) error {
		return stake.SetBalance(tx, reporterID, amount)
	})
}

// Audit lists governance ledger entries. Reading the audit trail requires
// governance rights as well.
func (o *Override) Audit(ctx context.Context, caller domain.Caller, since uint64, limit int) ([]domain.LedgerEntry, error) {
	if _, err := o.authority.Authorize(caller); err != nil {
		return nil, err
	}
	return o.ledger.Entries(ctx, ledger.EntryFilter{
		Ops:   ledger.GovernanceOps,
		Since: since,
		Limit: limit,
	})
}
