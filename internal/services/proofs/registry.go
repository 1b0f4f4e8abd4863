// Package proofs implements the proof registry, the sole replay-protection
// mechanism of the relay layer.
package proofs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZKRand-Network/relay_layer/internal/domain/proof"
	"github.com/ZKRand-Network/relay_layer/internal/metrics"
	"github.com/ZKRand-Network/relay_layer/internal/storage"
	"github.com/ZKRand-Network/relay_layer/pkg/logger"
)

// Registry guards proof identity uniqueness. Admit is the single cross-job
// serialization point: of N concurrent admits with the same identity exactly
// one succeeds.
type Registry struct {
	store storage.ProofStore
	log   *logger.Logger
}

// New constructs a registry over the given proof store. The store's
// InsertProof provides the atomic check-and-insert.
func New(store storage.ProofStore, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault("proofs")
	}
	return &Registry{store: store, log: log}
}

// Admit inserts the proof identity, rejecting replays. A duplicate is
// rejected before any side effect regardless of the first submission's
// outcome.
func (r *Registry) Admit(ctx context.Context, proofIdentity, requestID string) error {
	rec := proof.Record{
		ProofIdentity:      proofIdentity,
		RequestID:          requestID,
		SubmittedAt:        time.Now().UTC(),
		VerificationStatus: proof.VerificationPending,
	}

	err := r.store.InsertProof(ctx, rec)
	if errors.Is(err, proof.ErrDuplicateProof) {
		metrics.CountProofAdmission("duplicate")
		r.log.WithFields(map[string]any{
			"proof_identity": proofIdentity,
			"request_id":     requestID,
		}).Warn("duplicate proof identity rejected")
		return proof.ErrDuplicateProof
	}
	if err != nil {
		return fmt.Errorf("admit proof: %w", err)
	}

	metrics.CountProofAdmission("admitted")
	return nil
}

// RecordVerificationResult updates the stored verdict for an admitted proof.
func (r *Registry) RecordVerificationResult(ctx context.Context, proofIdentity string, verified bool) error {
	rec, err := r.store.GetProof(ctx, proofIdentity)
	if err != nil {
		return err
	}

	if verified {
		rec.VerificationStatus = proof.VerificationVerified
	} else {
		rec.VerificationStatus = proof.VerificationRejected
	}
	return r.store.UpdateProof(ctx, rec)
}

// IsUsed reports whether a proof identity was ever admitted.
func (r *Registry) IsUsed(ctx context.Context, proofIdentity string) (bool, error) {
	_, err := r.store.GetProof(ctx, proofIdentity)
	if errors.Is(err, proof.ErrUnknownProof) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the record for an admitted proof.
func (r *Registry) Get(ctx context.Context, proofIdentity string) (proof.Record, error) {
	return r.store.GetProof(ctx, proofIdentity)
}
