package reveal

import (
	"context"
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"threatmesh/internal/commitment"
	"threatmesh/internal/consensus"
	"threatmesh/internal/database/dbtest"
	"threatmesh/internal/domain"
	"threatmesh/internal/events"
	"threatmesh/internal/ledger"
	"threatmesh/internal/stake"
	"threatmesh/internal/whitelist"
)

type capture struct{ evs []events.Event }

func (c *capture) Publish(evs ...events.Event) { c.evs = append(c.evs, evs...) }

type fixture struct {
	ledger      *ledger.Ledger
	balances    *stake.StaticBalances
	commitments *commitment.Store
	registry    *whitelist.Registry
	tracker     *consensus.Tracker
	processor   *Processor
	pub         *capture
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	pub := &capture{}
	l, err := ledger.New(ctx, dbtest.Open(t), pub)
	require.NoError(t, err)

	params := domain.StaticParams(domain.DefaultParams())
	f := &fixture{
		ledger:      l,
		balances:    stake.NewStaticBalances(),
		commitments: commitment.NewStore(),
		registry:    whitelist.NewRegistry(),
		tracker:     consensus.NewTracker(params),
		pub:         pub,
	}
	f.processor = NewProcessor(stake.NewGate(f.balances, params), f.commitments, f.registry, f.tracker, params)
	require.NoError(t, f.registry.Seed(ctx, l, whitelist.DefaultSeed))
	return f
}

func (f *fixture) fund(reporters ...string) {
	for _, r := range reporters {
		f.balances.Set(r, domain.DefaultMinTokenBalance)
	}
}

func (f *fixture) commit(t *testing.T, address, salt, reporter string) {
	t.Helper()
	_, err := f.ledger.Apply(context.Background(), ledger.OpCommit, reporter, func(tx *ledger.Tx) error {
		_, err := f.commitments.Commit(tx, domain.HashAddress(address), salt, reporter)
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) reveal(address, salt string, ev Evidence, reporter string) (*domain.ThreatStatus, error) {
	var status *domain.ThreatStatus
	_, err := f.ledger.Apply(context.Background(), ledger.OpReveal, reporter, func(tx *ledger.Tx) error {
		var err error
		status, err = f.processor.Reveal(tx, address, salt, ev, reporter)
		return err
	})
	return status, err
}

func ddos(risk uint64) Evidence {
	return Evidence{CPULoadPercent: 90, LogReference: "0x1234567890abcdef", AttackType: "DDoS", RiskScore: risk}
}

func TestRevealSingleReport(t *testing.T) {
	f := newFixture(t)
	f.fund("A")
	f.commit(t, "203.0.113.5", "s1", "A")

	_, err := f.ledger.Advance(context.Background(), domain.DefaultRevealDelay)
	require.NoError(t, err)

	before := len(f.pub.evs)
	status, err := f.reveal("203.0.113.5", "s1", ddos(70), "A")
	require.NoError(t, err)
	require.EqualValues(t, 1, status.ReportCount)
	require.False(t, status.Confirmed)

	evs := f.pub.evs[before:]
	require.Len(t, evs, 2)
	require.Equal(t, events.KindLocalDefenseActive, evs[0].Kind)
	require.Equal(t, events.KindThreatRevealed, evs[1].Kind)
	require.Equal(t, "s1", evs[1].Salt)

	revealed, err := f.commitments.IsRevealed(f.ledger.DB(context.Background()), commitment.DeriveKey(domain.HashAddress("203.0.113.5"), "s1", "A"))
	require.NoError(t, err)
	require.True(t, revealed)
}

func TestRevealDelayBoundary(t *testing.T) {
	f := newFixture(t)
	f.fund("A")
	f.commit(t, "203.0.113.5", "s1", "A")

	// The reveal itself takes the next sequence number, so after delay-2
	// ticks it lands at delay-1 steps past the commit.
	_, err := f.ledger.Advance(context.Background(), domain.DefaultRevealDelay-2)
	require.NoError(t, err)

	height := f.ledger.Height()
	_, err = f.reveal("203.0.113.5", "s1", ddos(70), "A")
	require.ErrorIs(t, err, domain.ErrRevealTooEarly)
	require.Equal(t, height, f.ledger.Height())

	_, err = f.ledger.Tick(context.Background())
	require.NoError(t, err)
	_, err = f.reveal("203.0.113.5", "s1", ddos(70), "A")
	require.NoError(t, err)
}

func TestRevealRejections(t *testing.T) {
	f := newFixture(t)
	f.fund("A", "B")
	f.commit(t, "203.0.113.5", "s1", "A")
	_, err := f.ledger.Advance(context.Background(), domain.DefaultRevealDelay)
	require.NoError(t, err)

	_, err = f.reveal("203.0.113.5", "wrong-salt", ddos(70), "A")
	require.ErrorIs(t, err, domain.ErrCommitmentNotFound)

	_, err = f.reveal("203.0.113.6", "s1", ddos(70), "A")
	require.ErrorIs(t, err, domain.ErrCommitmentNotFound)

	_, err = f.reveal("203.0.113.5", "s1", ddos(70), "B")
	require.ErrorIs(t, err, domain.ErrCommitmentNotFound)

	_, err = f.reveal("not-an-ip", "s1", ddos(70), "A")
	require.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = f.reveal("203.0.113.5", "s1", Evidence{CPULoadPercent: 101, AttackType: "DDoS"}, "A")
	require.ErrorIs(t, err, domain.ErrInvalidEvidence)

	_, err = f.reveal("203.0.113.5", "s1", Evidence{CPULoadPercent: 50}, "A")
	require.ErrorIs(t, err, domain.ErrInvalidEvidence)

	_, err = f.reveal("203.0.113.5", "s1", ddos(domain.MaxRiskScore+1), "A")
	require.ErrorIs(t, err, domain.ErrInvalidEvidence)

	_, err = f.reveal("203.0.113.5", "s1", ddos(70), "C")
	require.ErrorIs(t, err, domain.ErrInsufficientStake)

	_, err = f.reveal("203.0.113.5", "s1", ddos(70), "A")
	require.NoError(t, err)

	_, err = f.reveal("203.0.113.5", "s1", ddos(70), "A")
	require.ErrorIs(t, err, domain.ErrAlreadyRevealed)
}

func TestRevealRechecksStake(t *testing.T) {
	f := newFixture(t)
	f.fund("A")
	f.commit(t, "203.0.113.5", "s1", "A")
	_, err := f.ledger.Advance(context.Background(), domain.DefaultRevealDelay)
	require.NoError(t, err)

	f.balances.Set("A", uint256.NewInt(1))
	_, err = f.reveal("203.0.113.5", "s1", ddos(70), "A")
	require.ErrorIs(t, err, domain.ErrInsufficientStake)
}

func TestRevealWhitelistedAddressAlwaysFails(t *testing.T) {
	for _, risk := range []uint64{0, 999} {
		t.Run(fmt.Sprintf("risk_%d", risk), func(t *testing.T) {
			f := newFixture(t)
			f.fund("A")
			f.commit(t, "8.8.8.8", "s1", "A")
			_, err := f.ledger.Advance(context.Background(), domain.DefaultRevealDelay)
			require.NoError(t, err)

			_, err = f.reveal("8.8.8.8", "s1", ddos(risk), "A")
			require.ErrorIs(t, err, domain.ErrAddressWhitelisted)

			status, err := f.tracker.Status(f.ledger.DB(context.Background()), "8.8.8.8")
			require.NoError(t, err)
			require.False(t, status.Confirmed)
			require.Zero(t, status.ReportCount)

			revealed, err := f.commitments.IsRevealed(f.ledger.DB(context.Background()), commitment.DeriveKey(domain.HashAddress("8.8.8.8"), "s1", "A"))
			require.NoError(t, err)
			require.False(t, revealed)
		})
	}
}

func TestRevealDuplicateReporterWithSecondCommitment(t *testing.T) {
	f := newFixture(t)
	f.fund("A")
	f.commit(t, "203.0.113.5", "s1", "A")
	f.commit(t, "203.0.113.5", "s2", "A")
	_, err := f.ledger.Advance(context.Background(), domain.DefaultRevealDelay)
	require.NoError(t, err)

	_, err = f.reveal("203.0.113.5", "s1", ddos(70), "A")
	require.NoError(t, err)
	_, err = f.reveal("203.0.113.5", "s2", ddos(70), "A")
	require.ErrorIs(t, err, domain.ErrDuplicateReporter)

	count, err := f.tracker.EvidenceCount(f.ledger.DB(context.Background()), "203.0.113.5")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestThreeReportersConfirm(t *testing.T) {
	f := newFixture(t)
	reporters := []string{"A", "B", "C"}
	f.fund(reporters...)
	for _, r := range reporters {
		f.commit(t, "198.51.100.10", "salt-"+r, r)
	}
	_, err := f.ledger.Advance(context.Background(), domain.DefaultRevealDelay)
	require.NoError(t, err)

	var status *domain.ThreatStatus
	for i, r := range reporters {
		status, err = f.reveal("198.51.100.10", "salt-"+r, ddos(uint64(50+10*i)), r)
		require.NoError(t, err)
	}
	require.True(t, status.Confirmed)
	require.EqualValues(t, 3, status.ReportCount)
	require.EqualValues(t, 180, status.TotalRiskScore)

	var confirmed int
	for _, ev := range f.pub.evs {
		if ev.Kind == events.KindGlobalThreatConfirmed {
			confirmed++
			require.Equal(t, "198.51.100.10", ev.Address)
			require.Equal(t, "DDoS", ev.Reason)
		}
	}
	require.Equal(t, 1, confirmed)
}
