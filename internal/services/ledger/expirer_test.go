package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ZKRand-Network/relay_layer/internal/domain/request"
	"github.com/ZKRand-Network/relay_layer/internal/storage/memory"
)

func TestExpirerSweep(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), fixedFee(0), Options{RequestTimeout: time.Millisecond}, nil)

	req, err := svc.CreateRequest(ctx, "c1", "r1", strings.Repeat("ab", 32), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	exp := NewExpirer(svc, "@every 1s", nil)
	if err := exp.Start(ctx); err != nil {
		t.Fatalf("start expirer: %v", err)
	}
	defer exp.Stop(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := svc.Get(ctx, req.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.State == request.StateExpired {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("request was not expired by the sweep")
}

func TestExpirerRejectsBadSchedule(t *testing.T) {
	svc := New(memory.New(), fixedFee(0), Options{}, nil)
	exp := NewExpirer(svc, "not a schedule", nil)
	if err := exp.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
