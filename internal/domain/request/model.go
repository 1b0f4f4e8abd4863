// Package request defines the randomness request lifecycle model.
package request

import (
	"errors"
	"time"
)

// State is the lifecycle state of a randomness request. Transitions are
// forward-only; see Allowed.
type State string

const (
	StatePending        State = "pending"
	StateProofSubmitted State = "proof_submitted"
	StateVerifying      State = "verifying"
	StateVerified       State = "verified"
	StateRelaying       State = "relaying"
	StateFulfilled      State = "fulfilled"
	StateRejected       State = "rejected"
	StateExpired        State = "expired"
)

// Terminal reports whether no further transition may leave the state.
func (s State) Terminal() bool {
	switch s {
	case StateFulfilled, StateRejected, StateExpired:
		return true
	}
	return false
}

// transitions enumerates every legal forward edge of the state machine.
var transitions = map[State][]State{
	StatePending:        {StateProofSubmitted, StateExpired},
	StateProofSubmitted: {StateVerifying, StateRejected, StateExpired},
	StateVerifying:      {StateVerified, StateRejected},
	StateVerified:       {StateRelaying},
	StateRelaying:       {StateFulfilled},
}

// Allowed reports whether from → to is a legal transition.
func Allowed(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Rejection reasons recorded on requests that terminate in StateRejected.
const (
	ReasonVerificationFailed  = "verification_failed"
	ReasonVerificationTimeout = "verification_timeout"
)

var (
	// ErrInsufficientFee indicates the paid fee is below the active fee.
	ErrInsufficientFee = errors.New("insufficient fee")
	// ErrDuplicateSeed indicates seed reuse under the unique-seed policy.
	ErrDuplicateSeed = errors.New("duplicate seed")
	// ErrInvalidStateTransition indicates a transition the state machine forbids.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrNotFound indicates the request does not exist.
	ErrNotFound = errors.New("request not found")
	// ErrMalformedSeed indicates the seed is not a 32-byte hex string.
	ErrMalformedSeed = errors.New("malformed seed")
)

// SeedLength is the required seed size in bytes.
const SeedLength = 32

// Request is a randomness request tracked from creation to fulfillment.
//
// RandomValue and ProofIdentity are set if and only if State is
// StateFulfilled; exactly one proof identity ever fulfills a request.
type Request struct {
	ID        string `json:"id" db:"id"`
	ChainID   string `json:"chain_id" db:"chain_id"`
	Requester string `json:"requester" db:"requester"`
	Seed      string `json:"seed" db:"seed"`
	FeePaid   uint64 `json:"fee_paid" db:"fee_paid"`
	State     State  `json:"state" db:"state"`

	RandomValue   string `json:"random_value,omitempty" db:"random_value"`
	ProofIdentity string `json:"proof_identity,omitempty" db:"proof_identity"`
	RejectReason  string `json:"reject_reason,omitempty" db:"reject_reason"`

	// Quarantined marks a request whose stored state contradicted the state
	// machine; it is left in place for operator inspection.
	Quarantined bool `json:"quarantined,omitempty" db:"quarantined"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty" db:"fulfilled_at"`
}
