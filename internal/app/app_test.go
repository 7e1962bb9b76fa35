package app

import (
	"context"
	"testing"

	"github.com/charmbracelet/log"

	"threatmesh/internal/database/dbtest"
	"threatmesh/internal/domain"
	"threatmesh/internal/engine"
)

func TestReadPort(t *testing.T) {
	t.Setenv("THREATMESH_PORT_VALID", "12345")
	if got := readPort("THREATMESH_PORT_VALID"); got != 12345 {
		t.Fatalf("readPort returned %d, want 12345", got)
	}

	t.Setenv("THREATMESH_PORT_INVALID", "not-a-number")
	if got := readPort("THREATMESH_PORT_INVALID"); got != 0 {
		t.Fatalf("readPort with invalid value returned %d, want 0", got)
	}

	t.Setenv("THREATMESH_PORT_ZERO", "0")
	if got := readPort("THREATMESH_PORT_ZERO"); got != 0 {
		t.Fatalf("readPort with zero value returned %d, want 0", got)
	}
}

func TestResolvePort(t *testing.T) {
	t.Run("primary env overrides fallback", func(t *testing.T) {
		t.Setenv("PRIMARY_PORT", "5050")
		if got := resolvePort("PRIMARY_PORT", "LEGACY_PORT", 8080); got != 5050 {
			t.Fatalf("resolvePort returned %d, want 5050", got)
		}
	})

	t.Run("legacy env used when primary missing", func(t *testing.T) {
		t.Setenv("LEGACY_PORT", "6060")
		if got := resolvePort("PRIMARY_MISSING", "LEGACY_PORT", 8080); got != 6060 {
			t.Fatalf("resolvePort returned %d, want 6060", got)
		}
	})

	t.Run("fallback used when env unset", func(t *testing.T) {
		if got := resolvePort("UNSET_PRIMARY", "UNSET_LEGACY", 9090); got != 9090 {
			t.Fatalf("resolvePort returned %d, want 9090", got)
		}
	})
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]log.Level{
		"":        log.InfoLevel,
		"debug":   log.DebugLevel,
		" WARN ":  log.WarnLevel,
		"garbage": log.InfoLevel,
	}
	for raw, want := range cases {
		if got := parseLogLevel(raw); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("splitList returned %v", got)
	}
	if splitList("") != nil {
		t.Fatal("splitList of empty string should be nil")
	}
}

func TestConfirmedLoader(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(ctx, dbtest.Open(t))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	gov := domain.Caller{ID: "owner", Role: domain.RoleGovernance}
	if _, err := eng.ForceConfirm(ctx, gov, "203.0.113.5"); err != nil {
		t.Fatalf("ForceConfirm: %v", err)
	}

	addresses, err := confirmedLoader(eng)(ctx)
	if err != nil {
		t.Fatalf("loader: %v", err)
	}
	if len(addresses) != 1 || addresses[0] != "203.0.113.5" {
		t.Fatalf("loader returned %v", addresses)
	}
}
