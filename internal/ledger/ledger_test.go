package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"threatmesh/internal/database/dbtest"
	"threatmesh/internal/domain"
	"threatmesh/internal/events"
)

type recordingPublisher struct {
	published []events.Event
}

func (p *recordingPublisher) Publish(evs ...events.Event) {
	p.published = append(p.published, evs...)
}

func newTestLedger(t *testing.T) (*Ledger, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	l, err := New(context.Background(), dbtest.Open(t), pub)
	require.NoError(t, err)
	return l, pub
}

func TestApplyAssignsSequentialHeights(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.EqualValues(t, 0, l.Height())

	seq, err := l.Tick(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)

	seq, err = l.Apply(ctx, OpCommit, "reporter-a", func(tx *Tx) error {
		require.EqualValues(t, 2, tx.Seq)
		tx.SetTarget("0xabc")
		tx.SetDetail("salt length %d", 2)
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, seq)
	require.EqualValues(t, 2, l.Height())

	entries, err := l.Entries(ctx, EntryFilter{Ops: []Op{OpCommit}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "reporter-a", entries[0].Actor)
	require.Equal(t, "0xabc", entries[0].Target)
	require.Equal(t, "salt length 2", entries[0].Detail)
}

func TestApplyRollsBackOnError(t *testing.T) {
	l, pub := newTestLedger(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := l.Apply(ctx, OpWhitelistAdd, "gov", func(tx *Tx) error {
		require.NoError(t, tx.DB.Create(&domain.WhitelistEntry{Address: "9.9.9.9", Active: true}).Error)
		tx.Emit(events.WhitelistUpdated("9.9.9.9", true))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 0, l.Height())
	require.Empty(t, pub.published)

	var count int64
	require.NoError(t, l.DB(ctx).Model(&domain.WhitelistEntry{}).Count(&count).Error)
	require.Zero(t, count)

	entries, err := l.Entries(ctx, EntryFilter{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestEventsPublishedAfterCommitWithSeq(t *testing.T) {
	l, pub := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Advance(ctx, 4)
	require.NoError(t, err)

	seq, err := l.Apply(ctx, OpForceConfirm, "gov", func(tx *Tx) error {
		tx.Emit(events.GlobalThreatConfirmed("203.0.113.5", domain.ForceConfirmReason))
		require.Empty(t, pub.published, "events must not leak before commit")
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 5, seq)
	require.Len(t, pub.published, 1)
	require.EqualValues(t, 5, pub.published[0].Seq)
	require.False(t, pub.published[0].Timestamp.IsZero())
}

func TestNewResumesHeight(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()

	first, err := New(ctx, db, nil)
	require.NoError(t, err)
	_, err = first.Advance(ctx, 3)
	require.NoError(t, err)

	second, err := New(ctx, db, nil)
	require.NoError(t, err)
	require.EqualValues(t, 3, second.Height())

	seq, err := second.Tick(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, seq)
}

func TestEntriesFilters(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for _, target := range []string{"1.2.3.4", "5.6.7.8", "1.2.3.4"} {
		_, err := l.Apply(ctx, OpForceRevoke, "gov", func(tx *Tx) error {
			tx.SetTarget(target)
			return nil
		})
		require.NoError(t, err)
	}

	entries, err := l.Entries(ctx, EntryFilter{Target: "1.2.3.4"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = l.Entries(ctx, EntryFilter{Since: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 2, entries[0].Seq)
}

func TestNewRejectsNilDB(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestApplyRetriesWhenSequenceTaken(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Tick(ctx)
	require.NoError(t, err)

	calls := 0
	seq, err := l.Apply(ctx, OpCommit, "reporter-a", func(tx *Tx) error {
		calls++
		if calls == 1 {
			// Another writer commits the same sequence number first.
			return tx.DB.Create(&domain.LedgerEntry{Seq: tx.Seq, Op: string(OpTick)}).Error
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.EqualValues(t, 2, seq)

	entries, err := l.Entries(ctx, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, string(OpCommit), entries[1].Op)
}

func TestApplyGivesUpAfterRepeatedConflicts(t *testing.T) {
	l, _ := newTestLedger(t)

	calls := 0
	_, err := l.Apply(context.Background(), OpCommit, "reporter-a", func(tx *Tx) error {
		calls++
		return tx.DB.Create(&domain.LedgerEntry{Seq: tx.Seq, Op: string(OpTick)}).Error
	})
	require.ErrorIs(t, err, errSeqTaken)
	require.Equal(t, maxSeqAttempts, calls)
	require.EqualValues(t, 0, l.Height())
}

func TestLedgersSharingDatabaseStayOrdered(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	first, err := New(ctx, db, nil)
	require.NoError(t, err)
	second, err := New(ctx, db, nil)
	require.NoError(t, err)

	const perLedger = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*perLedger)
	for _, l := range []*Ledger{first, second} {
		wg.Add(1)
		go func(l *Ledger) {
			defer wg.Done()
			for i := 0; i < perLedger; i++ {
				if _, err := l.Tick(ctx); err != nil {
					errs <- err
				}
			}
		}(l)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := first.Entries(ctx, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2*perLedger)
	for i, entry := range entries {
		require.EqualValues(t, i+1, entry.Seq)
	}
}

func TestHeightLockSQL(t *testing.T) {
	require.Contains(t, heightLockSQL("postgres"), "pg_advisory_xact_lock")
	require.Empty(t, heightLockSQL("sqlite"))
}
