// Package whitelist holds the governance-owned set of addresses that can never
// be confirmed as threats.
package whitelist

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"threatmesh/internal/domain"
	"threatmesh/internal/events"
	"threatmesh/internal/ledger"
)

// DefaultSeed are public resolvers that must stay reachable.
var DefaultSeed = []string{"8.8.8.8", "8.8.4.4", "1.1.1.1", "1.0.0.1"}

type Registry struct{}

func NewRegistry() *Registry {
	return &Registry{}
}

// IsWhitelisted is a pure read against any handle: a transition's tx.DB or the
// ledger's read handle.
func (r *Registry) IsWhitelisted(db *gorm.DB, address string) (bool, error) {
	var entry domain.WhitelistEntry
	err := db.Where("address = ?", address).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("whitelist: lookup %s: %w", address, err)
	}
	return entry.Active, nil
}

// List returns the active entries.
func (r *Registry) List(db *gorm.DB) ([]domain.WhitelistEntry, error) {
	var entries []domain.WhitelistEntry
	if err := db.Where("active = ?", true).Order("address ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Set activates or deactivates an address. Callers must hold governance
// authority; see governance.Override.
func (r *Registry) Set(tx *ledger.Tx, address string, active bool) error {
	canonical, err := domain.CanonicalAddress(address)
	if err != nil {
		return err
	}

	entry := domain.WhitelistEntry{Address: canonical, Active: active, UpdatedAtSeq: tx.Seq}
	err = tx.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"active", "updated_at_seq"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("whitelist: set %s active=%t: %w", canonical, active, err)
	}

	tx.SetTarget(canonical)
	tx.Emit(events.WhitelistUpdated(canonical, active))
	return nil
}

// Seed whitelists addresses when the registry has never been initialised.
// Seeding is itself a ledger transition so it shows up in the audit log.
func (r *Registry) Seed(ctx context.Context, l *ledger.Ledger, addresses []string) error {
	var count int64
	if err := l.DB(ctx).Model(&domain.WhitelistEntry{}).Count(&count).Error; err != nil {
		return fmt.Errorf("whitelist: count entries: %w", err)
	}
	if count > 0 || len(addresses) == 0 {
		return nil
	}

	_, err := l.Apply(ctx, ledger.OpWhitelistSeed, "genesis", func(tx *ledger.Tx) error {
		for _, addr := range addresses {
			if err := r.Set(tx, addr, true); err != nil {
				return err
			}
		}
		tx.SetTarget("")
		tx.SetDetail("seeded %d addresses", len(addresses))
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("Whitelist seeded", "count", len(addresses))
	return nil
}
