package proofs

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ZKRand-Network/relay_layer/internal/domain/proof"
)

// TestRedisStoreIntegration exercises the Redis-backed proof store against a
// live server. Set RELAY_TEST_REDIS to run it.
func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("RELAY_TEST_REDIS")
	if addr == "" {
		t.Skip("RELAY_TEST_REDIS not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	reg := New(NewRedisStore(client), nil)
	identity := "it-" + uuid.NewString()

	if err := reg.Admit(ctx, identity, "req-1"); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if err := reg.Admit(ctx, identity, "req-2"); !errors.Is(err, proof.ErrDuplicateProof) {
		t.Fatalf("expected ErrDuplicateProof, got %v", err)
	}

	if err := reg.RecordVerificationResult(ctx, identity, true); err != nil {
		t.Fatalf("record result: %v", err)
	}
	rec, err := reg.Get(ctx, identity)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.VerificationStatus != proof.VerificationVerified {
		t.Fatalf("unexpected status %s", rec.VerificationStatus)
	}

	if err := reg.RecordVerificationResult(ctx, "it-never-admitted", true); !errors.Is(err, proof.ErrUnknownProof) {
		t.Fatalf("expected ErrUnknownProof, got %v", err)
	}

	// SETNX must serialize concurrent admissions of one identity.
	contested := "it-contested-" + uuid.NewString()
	const workers = 16
	var admitted int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := reg.Admit(ctx, contested, "req"); err == nil {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	if admitted != 1 {
		t.Fatalf("expected exactly one winner, got %d", admitted)
	}
}
