package proofs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ZKRand-Network/relay_layer/internal/domain/proof"
	"github.com/ZKRand-Network/relay_layer/internal/storage/memory"
)

func TestAdmitOnce(t *testing.T) {
	ctx := context.Background()
	reg := New(memory.New(), nil)

	if err := reg.Admit(ctx, "proof-1", "req-1"); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if err := reg.Admit(ctx, "proof-1", "req-2"); !errors.Is(err, proof.ErrDuplicateProof) {
		t.Fatalf("expected ErrDuplicateProof, got %v", err)
	}

	used, err := reg.IsUsed(ctx, "proof-1")
	if err != nil {
		t.Fatalf("is used: %v", err)
	}
	if !used {
		t.Fatal("admitted proof must be marked used")
	}

	used, err = reg.IsUsed(ctx, "proof-2")
	if err != nil {
		t.Fatalf("is used: %v", err)
	}
	if used {
		t.Fatal("unknown proof must not be marked used")
	}
}

func TestAdmitConcurrent(t *testing.T) {
	ctx := context.Background()
	reg := New(memory.New(), nil)

	const workers = 32
	var admitted int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			err := reg.Admit(ctx, "contested", "req")
			if err == nil {
				atomic.AddInt64(&admitted, 1)
			} else if !errors.Is(err, proof.ErrDuplicateProof) {
				t.Errorf("worker %d: unexpected error %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("exactly one admit must win, got %d", admitted)
	}
}

func TestRecordVerificationResult(t *testing.T) {
	ctx := context.Background()
	reg := New(memory.New(), nil)

	if err := reg.Admit(ctx, "p", "r"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := reg.RecordVerificationResult(ctx, "p", true); err != nil {
		t.Fatalf("record: %v", err)
	}
	rec, err := reg.Get(ctx, "p")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.VerificationStatus != proof.VerificationVerified {
		t.Fatalf("expected verified, got %s", rec.VerificationStatus)
	}

	if err := reg.RecordVerificationResult(ctx, "missing", false); !errors.Is(err, proof.ErrUnknownProof) {
		t.Fatalf("expected ErrUnknownProof, got %v", err)
	}
}

func TestIdentityDeterministic(t *testing.T) {
	a := proof.Identity([]byte("payload"))
	b := proof.Identity([]byte("payload"))
	c := proof.Identity([]byte("payload2"))
	if a != b {
		t.Fatal("identity must be deterministic")
	}
	if a == c {
		t.Fatal("distinct payloads must hash to distinct identities")
	}
	if len(a) != 64 {
		t.Fatalf("expected 32-byte hex digest, got length %d", len(a))
	}
}
