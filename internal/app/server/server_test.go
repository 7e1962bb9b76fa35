package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"threatmesh/internal/api/dto"
	"threatmesh/internal/auth"
	"threatmesh/internal/database/dbtest"
	"threatmesh/internal/denylist"
	"threatmesh/internal/domain"
	"threatmesh/internal/engine"
	"threatmesh/internal/events"
	"threatmesh/internal/whitelist"
)

type testAPI struct {
	t        *testing.T
	srv      *httptest.Server
	engine   *engine.Engine
	bus      *events.Bus
	denylist *denylist.Manager
	govToken string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	auth.SetSecret("test-secret")
	t.Cleanup(func() { auth.SetSecret("") })

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	eng, err := engine.New(context.Background(), dbtest.Open(t), engine.WithPublisher(bus))
	require.NoError(t, err)
	require.NoError(t, eng.SeedWhitelist(context.Background(), whitelist.DefaultSeed))

	dl := denylist.NewManager(nil)
	feed := bus.Subscribe("denylist", 0, events.KindGlobalThreatConfirmed, events.KindGlobalThreatRevoked)
	go func() {
		for ev := range feed {
			dl.Apply(ev)
		}
	}()

	srv := httptest.NewServer(New(Deps{Engine: eng, Bus: bus, Denylist: dl}).Handler())
	t.Cleanup(srv.Close)

	gov, err := auth.GenerateJWT("owner", domain.RoleGovernance, time.Hour)
	require.NoError(t, err)

	return &testAPI{t: t, srv: srv, engine: eng, bus: bus, denylist: dl, govToken: gov}
}

func (a *testAPI) reporterToken(id string) string {
	a.t.Helper()
	token, err := auth.GenerateJWT(id, domain.RoleReporter, time.Hour)
	require.NoError(a.t, err)
	return token
}

func (a *testAPI) do(method, path, token string, body any, out any) int {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) fund(id string) {
	a.t.Helper()
	status := a.do(http.MethodPost, "/governance/stakes", a.govToken,
		dto.StakeRequest{ReporterID: id, Amount: domain.DefaultMinTokenBalance.Dec()}, nil)
	require.Equal(a.t, http.StatusOK, status)
}

func (a *testAPI) commit(token, address, salt string) (int, dto.CommitResponse) {
	a.t.Helper()
	var out dto.CommitResponse
	status := a.do(http.MethodPost, "/threats/commit", token,
		dto.CommitRequest{IPHash: domain.HashAddress(address).Hex(), Salt: salt}, &out)
	return status, out
}

func (a *testAPI) reveal(token, address, salt string, risk uint64) (int, dto.ThreatStatus, dto.ErrorResponse) {
	a.t.Helper()
	body := dto.RevealRequest{Address: address, Salt: salt, CPULoadPercent: 95, AttackType: "DDoS", RiskScore: risk}
	raw, err := json.Marshal(body)
	require.NoError(a.t, err)
	req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/threats/reveal", bytes.NewReader(raw))
	require.NoError(a.t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	var status dto.ThreatStatus
	var failure dto.ErrorResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&status))
	} else {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&failure))
	}
	return resp.StatusCode, status, failure
}

func (a *testAPI) advance() {
	a.t.Helper()
	_, err := a.engine.Ledger().Advance(context.Background(), int(a.engine.Params().RevealDelay))
	require.NoError(a.t, err)
}

func TestCommitRevealOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.fund("node-a")
	token := api.reporterToken("node-a")

	status, commit := api.commit(token, "203.0.113.5", "s1")
	require.Equal(t, http.StatusCreated, status)
	require.True(t, strings.HasPrefix(commit.CommitmentKey, "0x"))

	code, _, failure := api.reveal(token, "203.0.113.5", "s1", 80)
	require.Equal(t, http.StatusTooEarly, code)
	require.Equal(t, "reveal_too_early", failure.Code)

	api.advance()
	code, threat, _ := api.reveal(token, "203.0.113.5", "s1", 80)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, uint64(1), threat.ReportCount)
	require.Equal(t, uint64(80), threat.TotalRiskScore)
	require.False(t, threat.Confirmed)

	var commitment dto.CommitmentResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/commitments/"+commit.CommitmentKey, "", nil, &commitment))
	require.True(t, commitment.Valid)
	require.True(t, commitment.Revealed)

	var evidence dto.EvidenceResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/threats/203.0.113.5/evidence", "", nil, &evidence))
	require.Equal(t, uint64(1), evidence.Count)
	require.Len(t, evidence.Records, 1)
	require.Equal(t, "node-a", evidence.Records[0].ReporterID)

	var reported dto.ReportedResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/threats/203.0.113.5/reporters/node-a", "", nil, &reported))
	require.True(t, reported.Reported)
}

func TestQuorumConfirmationReachesDenylist(t *testing.T) {
	api := newTestAPI(t)
	ids := []string{"node-a", "node-b", "node-c"}
	for _, id := range ids {
		api.fund(id)
		status, _ := api.commit(api.reporterToken(id), "198.51.100.10", "salt-"+id)
		require.Equal(t, http.StatusCreated, status)
	}
	api.advance()

	for i, id := range ids {
		code, _, failure := api.reveal(api.reporterToken(id), "198.51.100.10", "salt-"+id, uint64(50+10*i))
		require.Equal(t, http.StatusOK, code, failure.Error)
	}

	var threat dto.ThreatStatus
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/threats/198.51.100.10", "", nil, &threat))
	require.True(t, threat.Confirmed)
	require.Equal(t, uint64(180), threat.TotalRiskScore)

	require.Eventually(t, func() bool { return api.denylist.Contains("198.51.100.10") }, time.Second, 10*time.Millisecond)

	var snap denylist.Snapshot
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/denylist", "", nil, &snap))
	require.Contains(t, snap.Addresses, "198.51.100.10")
}

func TestRejectionStatusCodes(t *testing.T) {
	api := newTestAPI(t)
	broke := api.reporterToken("broke")

	status, _ := api.commit(broke, "203.0.113.5", "s1")
	require.Equal(t, http.StatusPaymentRequired, status)

	api.fund("node-a")
	token := api.reporterToken("node-a")
	status, _ = api.commit(token, "8.8.8.8", "s1")
	require.Equal(t, http.StatusCreated, status)
	status, _ = api.commit(token, "8.8.8.8", "s1")
	require.Equal(t, http.StatusConflict, status)

	api.advance()
	code, _, failure := api.reveal(token, "8.8.8.8", "s1", 999)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "address_whitelisted", failure.Code)

	code, _, failure = api.reveal(token, "203.0.113.99", "nothing", 10)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "commitment_not_found", failure.Code)

	var errBody dto.ErrorResponse
	require.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/threats/not-an-ip", "", nil, &errBody))
	require.Equal(t, "invalid_address", errBody.Code)
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)

	require.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/threats/commit", "", dto.CommitRequest{}, nil))
	require.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/governance/threats/203.0.113.5/confirm", api.reporterToken("node-a"), nil, nil))
	require.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/threats/commit", api.govToken, dto.CommitRequest{}, nil))
}

func TestGovernanceEndpoints(t *testing.T) {
	api := newTestAPI(t)

	var seq dto.SeqResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/governance/threats/203.0.113.7/confirm", api.govToken, nil, &seq))
	require.NotZero(t, seq.Seq)

	var threat dto.ThreatStatus
	api.do(http.MethodGet, "/threats/203.0.113.7", "", nil, &threat)
	require.True(t, threat.Confirmed)
	require.True(t, threat.ForceConfirmed)

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/governance/whitelist", api.govToken, dto.AddressRequest{Address: "203.0.113.7"}, nil))
	api.do(http.MethodGet, "/threats/203.0.113.7", "", nil, &threat)
	require.False(t, threat.Confirmed)
	require.True(t, threat.Whitelisted)

	var errBody dto.ErrorResponse
	require.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/governance/threats/203.0.113.7/confirm", api.govToken, nil, &errBody))
	require.Equal(t, "address_whitelisted", errBody.Code)

	require.Equal(t, http.StatusOK, api.do(http.MethodDelete, "/governance/whitelist/203.0.113.7", api.govToken, nil, nil))
	var wl dto.WhitelistResponse
	api.do(http.MethodGet, "/whitelist/203.0.113.7", "", nil, &wl)
	require.False(t, wl.Whitelisted)

	var entries []dto.AuditEntry
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/governance/audit?limit=10", api.govToken, nil, &entries))
	require.GreaterOrEqual(t, len(entries), 3)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	var health dto.Health
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", "", nil, &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, uint64(3), health.Params.QuorumThreshold)
	require.Equal(t, "1000000000000000000000", health.Params.MinTokenBalance)
	require.Equal(t, api.engine.Height(), health.Height)
}

func TestEventStream(t *testing.T) {
	api := newTestAPI(t)

	url := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/events?kinds=GlobalThreatConfirmed"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return api.bus.SubscriberCount() == 2 }, time.Second, 10*time.Millisecond)

	_, err = api.engine.ForceConfirm(context.Background(), domain.Caller{ID: "owner", Role: domain.RoleGovernance}, "203.0.113.9")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, events.KindGlobalThreatConfirmed, ev.Kind)
	require.Equal(t, "203.0.113.9", ev.Address)
	require.Equal(t, domain.ForceConfirmReason, ev.Reason)
}

func TestStatusForCode(t *testing.T) {
	require.Equal(t, http.StatusPaymentRequired, statusForCode(domain.ErrorCode(domain.ErrInsufficientStake)))
	require.Equal(t, http.StatusConflict, statusForCode(domain.ErrorCode(domain.ErrDuplicateReporter)))
	require.Equal(t, http.StatusTooEarly, statusForCode(domain.ErrorCode(domain.ErrRevealTooEarly)))
	require.Equal(t, http.StatusNotFound, statusForCode(domain.ErrorCode(domain.ErrReportNotFound)))
	require.Equal(t, http.StatusForbidden, statusForCode(domain.ErrorCode(domain.ErrUnauthorized)))
	require.Equal(t, http.StatusBadRequest, statusForCode(domain.ErrorCode(domain.ErrHashMismatch)))
	require.Equal(t, http.StatusInternalServerError, statusForCode("internal"))
}
