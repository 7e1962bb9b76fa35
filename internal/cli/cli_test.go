package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"threatmesh/internal/api/dto"
	"threatmesh/internal/auth"
	"threatmesh/internal/commitment"
	"threatmesh/internal/domain"
)

func init() {
	color.NoColor = true
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashCommand(t *testing.T) {
	out, err := execute(t, "hash", "203.0.113.5", "--salt", "s1", "--reporter", "node-a")
	require.NoError(t, err)

	ipHash := domain.HashAddress("203.0.113.5")
	require.Contains(t, out, ipHash.Hex())
	require.Contains(t, out, commitment.DeriveKey(ipHash, "s1", "node-a").Hex())
}

func TestHashCommandRejectsInvalidAddress(t *testing.T) {
	_, err := execute(t, "hash", "not-an-ip")
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestCommitSendsOnlyTheHash(t *testing.T) {
	var got dto.CommitRequest
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threats/commit", r.URL.Path)
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(dto.CommitResponse{CommitmentKey: "0xabc", Seq: 7})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "--token", "tok", "commit", "203.0.113.5", "--salt", "s1")
	require.NoError(t, err)

	require.Equal(t, "Bearer tok", authHeader)
	require.Equal(t, domain.HashAddress("203.0.113.5").Hex(), got.IPHash)
	require.Equal(t, "s1", got.Salt)
	require.NotContains(t, got.IPHash, "203.0.113.5")
	require.Contains(t, out, "0xabc")
}

func TestStatusCommandPrintsConfirmation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threats/198.51.100.10", r.URL.Path)
		_ = json.NewEncoder(w).Encode(dto.ThreatStatus{
			Address: "198.51.100.10", ReportCount: 3, TotalRiskScore: 180, Confirmed: true, Reason: "DDoS",
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "status", "198.51.100.10")
	require.NoError(t, err)
	require.Contains(t, out, "CONFIRMED THREAT (DDoS)")
	require.Contains(t, out, "180")
}

func TestAPIErrorsCarryCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooEarly)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "reveal delay not reached", Code: "reveal_too_early"})
	}))
	defer srv.Close()

	_, err := execute(t, "--server", srv.URL, "reveal", "203.0.113.5", "--salt", "s1", "--risk", "80")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusTooEarly, apiErr.Status)
	require.Equal(t, "reveal_too_early", apiErr.Code)
}

func TestRevealRequiresSalt(t *testing.T) {
	_, err := execute(t, "reveal", "203.0.113.5")
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Cleanup(func() { auth.SetSecret("") })

	out, err := execute(t, "token", "--subject", "gov-1", "--role", "governance", "--secret", "cli-secret")
	require.NoError(t, err)

	claims, err := auth.ValidateJWT(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, domain.Caller{ID: "gov-1", Role: domain.RoleGovernance}, claims.Caller())
}

func TestWhitelistCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dto.WhitelistResponse{Address: "8.8.8.8", Whitelisted: true})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "whitelist", "check", "8.8.8.8")
	require.NoError(t, err)
	require.Contains(t, out, "8.8.8.8 is whitelisted")
}
