package support

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunWithLeaderWithoutRedisRunsLocally(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	err := RunWithLeader(ctx, nil, "threatmesh:leader:test", 0, func(runCtx context.Context) {
		ran = true
		cancel()
		<-runCtx.Done()
	})
	if !ran {
		t.Fatalf("run was not invoked")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunWithLeader() error = %v, want context.Canceled", err)
	}
}

func TestRunWithLeaderRequiresRun(t *testing.T) {
	if err := RunWithLeader(context.Background(), nil, "k", 0, nil); err == nil {
		t.Fatalf("expected error for nil run")
	}
}

func TestGenerateLeaderIDUnique(t *testing.T) {
	if generateLeaderID() == generateLeaderID() {
		t.Fatalf("leader ids should differ")
	}
}

func TestOpenRedisRejectsBadURL(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSleepCtxStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Hour) {
		t.Fatalf("sleepCtx returned true for a cancelled context")
	}
}
