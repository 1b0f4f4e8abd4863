package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/ZKRand-Network/relay_layer/internal/domain/fee"
)

func TestSetFeeAuthorization(t *testing.T) {
	ctx := context.Background()
	p := New(100, []string{"governor"}, nil)

	if err := p.SetFee(ctx, "intruder", 1); !errors.Is(err, fee.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if p.CurrentFee() != 100 {
		t.Fatalf("unauthorized call must not change the fee, got %d", p.CurrentFee())
	}

	if err := p.SetFee(ctx, "governor", 250); err != nil {
		t.Fatalf("authorized set: %v", err)
	}
	if p.CurrentFee() != 250 {
		t.Fatalf("expected fee 250, got %d", p.CurrentFee())
	}
}

func TestSetFeeEmptyAuthorizedSet(t *testing.T) {
	p := New(100, nil, nil)
	if err := p.SetFee(context.Background(), "anyone", 1); !errors.Is(err, fee.ErrUnauthorized) {
		t.Fatalf("empty authorized set must reject everyone, got %v", err)
	}
}

func TestSubscribersNotifiedOncePerChange(t *testing.T) {
	ctx := context.Background()
	p := New(100, []string{"governor"}, nil)

	var changes []fee.Change
	p.Subscribe(func(c fee.Change) { changes = append(changes, c) })

	// A failed change must not notify.
	_ = p.SetFee(ctx, "intruder", 1)
	if len(changes) != 0 {
		t.Fatalf("rejected change notified subscribers: %d", len(changes))
	}

	if err := p.SetFee(ctx, "governor", 200); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := p.SetFee(ctx, "governor", 300); err != nil {
		t.Fatalf("set fee: %v", err)
	}

	if len(changes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(changes))
	}
	if changes[0].PreviousFee != 100 || changes[0].NewFee != 200 {
		t.Fatalf("unexpected first change %+v", changes[0])
	}
	if changes[1].PreviousFee != 200 || changes[1].NewFee != 300 {
		t.Fatalf("unexpected second change %+v", changes[1])
	}
	if changes[0].ChangedBy != "governor" {
		t.Fatalf("expected changed_by governor, got %s", changes[0].ChangedBy)
	}
}

func TestScheduleEffectiveFrom(t *testing.T) {
	p := New(50, []string{"g"}, nil)
	before := p.Schedule()

	if err := p.SetFee(context.Background(), "g", 60); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	after := p.Schedule()
	if after.CurrentFee != 60 {
		t.Fatalf("expected 60, got %d", after.CurrentFee)
	}
	if after.EffectiveFrom.Before(before.EffectiveFrom) {
		t.Fatal("effective-from must not rewind")
	}
}
