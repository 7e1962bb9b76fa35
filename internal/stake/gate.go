// Package stake implements the token gate: reporters must hold a minimum
// balance for every write they submit.
package stake

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"threatmesh/internal/domain"
	"threatmesh/internal/ledger"
)

// BalanceSource reports a reporter's current token balance. It is consulted
// inside the ledger transition it guards.
type BalanceSource interface {
	BalanceOf(tx *ledger.Tx, reporterID string) (*uint256.Int, error)
}

type Gate struct {
	source BalanceSource
	params domain.ParamsSource
}

func NewGate(source BalanceSource, params domain.ParamsSource) *Gate {
	if params == nil {
		params = domain.StaticParams(domain.DefaultParams())
	}
	return &Gate{source: source, params: params}
}

// CheckEligible fails with ErrInsufficientStake when the reporter's balance is
// below the configured minimum.
func (g *Gate) CheckEligible(tx *ledger.Tx, reporterID string) error {
	if strings.TrimSpace(reporterID) == "" {
		return fmt.Errorf("stake: %w: empty reporter id", domain.ErrInsufficientStake)
	}

	balance, err := g.source.BalanceOf(tx, reporterID)
	if err != nil {
		return fmt.Errorf("stake: balance of %s: %w", reporterID, err)
	}

	min := g.params().Normalized().MinTokenBalance
	if balance == nil || balance.Lt(min) {
		return fmt.Errorf("stake: %w: %s holds %s, needs %s", domain.ErrInsufficientStake, reporterID, decimal(balance), min.Dec())
	}
	return nil
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// DBBalances reads the stake_balances table through the transition's handle.
type DBBalances struct{}

func (DBBalances) BalanceOf(tx *ledger.Tx, reporterID string) (*uint256.Int, error) {
	var row domain.StakeBalance
	err := tx.DB.Where("reporter_id = ?", reporterID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return row.Amount()
}

// SetBalance upserts a reporter's balance within a transition.
func SetBalance(tx *ledger.Tx, reporterID string, amount *uint256.Int) error {
	if strings.TrimSpace(reporterID) == "" {
		return errors.New("stake: empty reporter id")
	}
	if amount == nil {
		amount = uint256.NewInt(0)
	}

	row := domain.StakeBalance{
		ReporterID:   reporterID,
		Balance:      amount.Dec(),
		UpdatedAtSeq: tx.Seq,
	}
	err := tx.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reporter_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at_seq"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("stake: set balance of %s: %w", reporterID, err)
	}
	tx.SetTarget(reporterID)
	tx.SetDetail("balance=%s", row.Balance)
	return nil
}

// StaticBalances is an in-memory source, handy for demos and tests.
type StaticBalances struct {
	mu       sync.RWMutex
	balances map[string]*uint256.Int
}

func NewStaticBalances() *StaticBalances {
	return &StaticBalances{balances: make(map[string]*uint256.Int)}
}

func (s *StaticBalances) Set(reporterID string, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[reporterID] = new(uint256.Int).Set(amount)
}

func (s *StaticBalances) BalanceOf(_ *ledger.Tx, reporterID string) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.balances[reporterID]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return uint256.NewInt(0), nil
}

// ParseAmount parses a base-10 token amount.
func ParseAmount(raw string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("stake: parse amount %q: %w", raw, err)
	}
	return amount, nil
}
