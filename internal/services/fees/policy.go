// Package fees implements the request fee policy.
package fees

import (
	"context"
	"sync"
	"time"

	"github.com/ZKRand-Network/relay_layer/internal/domain/fee"
	"github.com/ZKRand-Network/relay_layer/pkg/logger"
)

// Subscriber receives fee-change notifications.
type Subscriber func(change fee.Change)

// Policy owns the fee schedule. It is the single writer; readers call
// CurrentFee.
type Policy struct {
	log *logger.Logger

	mu          sync.RWMutex
	schedule    fee.Schedule
	authorized  map[string]struct{}
	subscribers []Subscriber
}

// New constructs a fee policy with an initial fee and the set of callers
// allowed to change it. An empty authorized set rejects every SetFee.
func New(initialFee uint64, authorizedSetters []string, log *logger.Logger) *Policy {
	if log == nil {
		log = logger.NewDefault("fees")
	}
	authorized := make(map[string]struct{}, len(authorizedSetters))
	for _, setter := range authorizedSetters {
		authorized[setter] = struct{}{}
	}
	return &Policy{
		log:        log,
		schedule:   fee.Schedule{CurrentFee: initialFee, EffectiveFrom: time.Now().UTC()},
		authorized: authorized,
	}
}

// CurrentFee returns the active request fee.
func (p *Policy) CurrentFee() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.schedule.CurrentFee
}

// Schedule returns a copy of the active fee schedule.
func (p *Policy) Schedule() fee.Schedule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.schedule
}

// SetFee updates the fee. Only authorized callers may change it; every
// subscriber is notified exactly once per successful change.
func (p *Policy) SetFee(ctx context.Context, caller string, newFee uint64) error {
	_ = ctx

	p.mu.Lock()
	if _, ok := p.authorized[caller]; !ok {
		p.mu.Unlock()
		return fee.ErrUnauthorized
	}

	change := fee.Change{
		PreviousFee: p.schedule.CurrentFee,
		NewFee:      newFee,
		ChangedBy:   caller,
		ChangedAt:   time.Now().UTC(),
	}
	p.schedule = fee.Schedule{CurrentFee: newFee, EffectiveFrom: change.ChangedAt}
	subscribers := append([]Subscriber(nil), p.subscribers...)
	p.mu.Unlock()

	p.log.WithFields(map[string]any{
		"previous_fee": change.PreviousFee,
		"new_fee":      change.NewFee,
		"changed_by":   caller,
	}).Info("request fee updated")

	for _, notify := range subscribers {
		notify(change)
	}
	return nil
}

// Subscribe registers a fee-change subscriber.
func (p *Policy) Subscribe(fn Subscriber) {
	p.mu.Lock()
	p.subscribers = append(p.subscribers, fn)
	p.mu.Unlock()
}
