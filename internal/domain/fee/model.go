// Package fee defines the request fee schedule.
package fee

import (
	"errors"
	"time"
)

// ErrUnauthorized indicates the caller may not change the fee.
var ErrUnauthorized = errors.New("caller not authorized to set fee")

// Schedule is the active request fee. Single writer (the fee policy),
// read by many.
type Schedule struct {
	CurrentFee    uint64    `json:"current_fee"`
	EffectiveFrom time.Time `json:"effective_from"`
}

// Change describes a fee update delivered to subscribers.
type Change struct {
	PreviousFee uint64    `json:"previous_fee"`
	NewFee      uint64    `json:"new_fee"`
	ChangedBy   string    `json:"changed_by"`
	ChangedAt   time.Time `json:"changed_at"`
}
