// Package ledger is the single ordering point of the engine. Every write is a
// transition: it runs inside one database transaction, is assigned the next
// sequence number and is appended to the ledger_entries log. A transition that
// returns an error leaves no trace, and its events are never published.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"threatmesh/internal/domain"
	"threatmesh/internal/events"
)

type Op string

const (
	OpTick            Op = "tick"
	OpCommit          Op = "commit"
	OpReveal          Op = "reveal"
	OpRevoke          Op = "revoke"
	OpForceConfirm    Op = "force_confirm"
	OpForceRevoke     Op = "force_revoke"
	OpWhitelistAdd    Op = "whitelist_add"
	OpWhitelistRemove Op = "whitelist_remove"
	OpWhitelistSeed   Op = "whitelist_seed"
	OpSetStake        Op = "set_stake"
)

// GovernanceOps are the privileged transitions kept for audit.
var GovernanceOps = []Op{OpForceConfirm, OpForceRevoke, OpWhitelistAdd, OpWhitelistRemove, OpSetStake}

// Publisher receives the events of committed transitions.
type Publisher interface {
	Publish(evs ...events.Event)
}

// Ledger serialises writes. Reads go straight to the database.
type Ledger struct {
	db        *gorm.DB
	publisher Publisher

	mu     sync.Mutex
	height atomic.Uint64
}

func New(ctx context.Context, db *gorm.DB, publisher Publisher) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("ledger: nil database")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l := &Ledger{db: db, publisher: publisher}
	height, err := latestSeq(db.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ledger: load height: %w", err)
	}
	l.height.Store(height)
	return l, nil
}

func latestSeq(db *gorm.DB) (uint64, error) {
	var height uint64
	row := db.Model(&domain.LedgerEntry{}).Select("COALESCE(MAX(seq), 0)").Row()
	if err := row.Scan(&height); err != nil {
		return 0, err
	}
	return height, nil
}

// Height is the sequence number of the last committed transition.
func (l *Ledger) Height() uint64 {
	return l.height.Load()
}

// DB returns a read handle on committed state.
func (l *Ledger) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return l.db
	}
	return l.db.WithContext(ctx)
}

// heightLockKey identifies the ledger's advisory lock in Postgres.
const heightLockKey int64 = 0x746d6c6564676572

// maxSeqAttempts bounds how often a transition is retried after another
// writer took its sequence number.
const maxSeqAttempts = 3

var errSeqTaken = errors.New("ledger: sequence number taken by another writer")

// heightLockSQL returns the statement that serialises transitions across
// processes sharing one database. SQLite needs none: writes already hold the
// database lock and the pool is pinned to one connection.
func heightLockSQL(dialect string) string {
	if dialect == "postgres" {
		return "SELECT pg_advisory_xact_lock(?)"
	}
	return ""
}

// Apply runs fn as one transition and returns the sequence number it was
// committed at. fn may run more than once if another process commits the same
// sequence number first, so it must only act through tx.
func (l *Ledger) Apply(ctx context.Context, op Op, actor string, fn func(tx *Tx) error) (uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		committed *Tx
		err       error
	)
	for attempt := 1; attempt <= maxSeqAttempts; attempt++ {
		committed, err = l.applyOnce(ctx, op, actor, fn)
		if !errors.Is(err, errSeqTaken) {
			break
		}
		log.Warn("ledger sequence conflict, retrying transition", "op", op, "actor", actor, "attempt", attempt)
	}
	if err != nil {
		return 0, err
	}

	l.height.Store(committed.Seq)
	if op != OpTick {
		log.Debug("ledger transition committed", "seq", committed.Seq, "op", op, "actor", actor, "target", committed.target)
	}

	if l.publisher != nil && len(committed.events) > 0 {
		l.publisher.Publish(committed.events...)
	}
	return committed.Seq, nil
}

func (l *Ledger) applyOnce(ctx context.Context, op Op, actor string, fn func(tx *Tx) error) (*Tx, error) {
	var committed *Tx
	err := l.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		if stmt := heightLockSQL(gtx.Dialector.Name()); stmt != "" {
			if err := gtx.Exec(stmt, heightLockKey).Error; err != nil {
				return fmt.Errorf("ledger: lock height: %w", err)
			}
		}
		last, err := latestSeq(gtx)
		if err != nil {
			return fmt.Errorf("ledger: read height: %w", err)
		}

		tx := &Tx{
			DB:    gtx,
			Seq:   last + 1,
			ctx:   ctx,
			op:    op,
			actor: actor,
		}

		if fn != nil {
			if err := fn(tx); err != nil {
				return err
			}
		}

		entry := domain.LedgerEntry{
			Seq:    tx.Seq,
			Op:     string(op),
			Actor:  actor,
			Target: tx.target,
			Detail: tx.detail,
		}
		if err := gtx.Create(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %d", errSeqTaken, tx.Seq)
			}
			return fmt.Errorf("ledger: append entry %d: %w", tx.Seq, err)
		}

		committed = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// Tick appends an empty step, advancing the height reveal delays are measured in.
func (l *Ledger) Tick(ctx context.Context) (uint64, error) {
	return l.Apply(ctx, OpTick, "", nil)
}

// Advance appends n empty steps.
func (l *Ledger) Advance(ctx context.Context, n int) (uint64, error) {
	var seq uint64
	for i := 0; i < n; i++ {
		var err error
		if seq, err = l.Tick(ctx); err != nil {
			return seq, err
		}
	}
	return l.Height(), nil
}

// EntryFilter narrows Entries. Zero values mean "no restriction".
type EntryFilter struct {
	Ops    []Op
	Target string
	Since  uint64
	Limit  int
}

// Entries lists ledger entries in sequence order.
func (l *Ledger) Entries(ctx context.Context, filter EntryFilter) ([]domain.LedgerEntry, error) {
	q := l.DB(ctx).Model(&domain.LedgerEntry{})
	if len(filter.Ops) > 0 {
		ops := make([]string, 0, len(filter.Ops))
		for _, op := range filter.Ops {
			ops = append(ops, string(op))
		}
		q = q.Where("op IN ?", ops)
	}
	if filter.Target != "" {
		q = q.Where("target = ?", filter.Target)
	}
	if filter.Since > 0 {
		q = q.Where("seq > ?", filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var entries []domain.LedgerEntry
	if err := q.Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Tx is the state store handed to components during a transition.
type Tx struct {
	DB  *gorm.DB
	Seq uint64

	ctx    context.Context
	op     Op
	actor  string
	target string
	detail string
	events []events.Event
}

func (tx *Tx) Context() context.Context { return tx.ctx }
func (tx *Tx) Op() Op                   { return tx.op }
func (tx *Tx) Actor() string            { return tx.actor }

// SetTarget records the address or key the transition acted on.
func (tx *Tx) SetTarget(target string) { tx.target = target }

func (tx *Tx) SetDetail(format string, args ...any) {
	tx.detail = fmt.Sprintf(format, args...)
}

// Emit queues an event for publication once the transition commits.
func (tx *Tx) Emit(ev events.Event) {
	ev.Seq = tx.Seq
	ev.Timestamp = time.Now().UTC()
	tx.events = append(tx.events, ev)
}
