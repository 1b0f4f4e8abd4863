// Package proof defines proof records and identity derivation.
package proof

import (
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/sha3"
)

// VerificationStatus is the external verifier's verdict on a proof.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

var (
	// ErrDuplicateProof indicates the proof identity was already admitted.
	ErrDuplicateProof = errors.New("duplicate proof identity")
	// ErrUnknownProof indicates the proof identity was never admitted.
	ErrUnknownProof = errors.New("unknown proof identity")
)

// Record tracks a single admitted proof. ProofIdentity is the globally
// unique key; it is inserted at most once.
type Record struct {
	ProofIdentity      string             `json:"proof_identity" db:"proof_identity"`
	RequestID          string             `json:"request_id" db:"request_id"`
	SubmittedAt        time.Time          `json:"submitted_at" db:"submitted_at"`
	VerificationStatus VerificationStatus `json:"verification_status" db:"verification_status"`
}

// Identity fingerprints a proof payload. Keccak-256 over the raw bytes,
// matching the used-proof set convention of the consumer contracts.
func Identity(payload []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
