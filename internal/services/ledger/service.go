// Package ledger implements the authoritative randomness request ledger.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZKRand-Network/relay_layer/internal/domain/request"
	"github.com/ZKRand-Network/relay_layer/internal/metrics"
	"github.com/ZKRand-Network/relay_layer/internal/storage"
	"github.com/ZKRand-Network/relay_layer/pkg/logger"
)

// FeeSource supplies the active request fee.
type FeeSource interface {
	CurrentFee() uint64
}

// Options controls ledger policy.
type Options struct {
	// RequireUniqueSeeds rejects seed reuse per chain when enabled. By
	// default seeds need not be unique; the request ID is the unique key.
	RequireUniqueSeeds bool
	// RequestTimeout is the age after which a request with no verified
	// proof may be expired.
	RequestTimeout time.Duration
}

// Service owns every RandomnessRequest lifecycle write. Each transition
// method call is the unit of mutual exclusion for its request.
type Service struct {
	store storage.RequestStore
	fees  FeeSource
	opts  Options
	log   *logger.Logger

	// mu serializes read-check-write transitions against the store.
	mu sync.Mutex
}

// New constructs a request ledger.
func New(store storage.RequestStore, fees FeeSource, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Minute
	}
	return &Service{store: store, fees: fees, opts: opts, log: log}
}

// CreateRequest validates fee and seed and persists a Pending request.
// Nothing is persisted on validation failure.
func (s *Service) CreateRequest(ctx context.Context, chainID, requester, seed string, feePaid uint64) (request.Request, error) {
	if err := validateSeed(seed); err != nil {
		return request.Request{}, err
	}
	if requester == "" {
		return request.Request{}, fmt.Errorf("requester required")
	}
	if currentFee := s.fees.CurrentFee(); feePaid < currentFee {
		return request.Request{}, fmt.Errorf("%w: paid %d, required %d",
			request.ErrInsufficientFee, feePaid, currentFee)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.RequireUniqueSeeds {
		if _, err := s.store.GetRequestBySeed(ctx, chainID, seed); err == nil {
			return request.Request{}, request.ErrDuplicateSeed
		} else if !errors.Is(err, request.ErrNotFound) {
			return request.Request{}, err
		}
	}

	req, err := s.store.CreateRequest(ctx, request.Request{
		ChainID:   chainID,
		Requester: requester,
		Seed:      seed,
		FeePaid:   feePaid,
		State:     request.StatePending,
	})
	if err != nil {
		return request.Request{}, fmt.Errorf("persist request: %w", err)
	}

	metrics.CountRequestOutcome("created")
	s.log.WithFields(map[string]any{
		"request_id": req.ID,
		"chain_id":   chainID,
		"requester":  requester,
	}).Info("randomness request created")
	return req, nil
}

func validateSeed(seed string) error {
	raw, err := hex.DecodeString(trimHexPrefix(seed))
	if err != nil || len(raw) != request.SeedLength {
		return request.ErrMalformedSeed
	}
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

// transition moves a request to the target state after validating the edge,
// applying mutate to set transition-specific fields. An illegal edge returns
// ErrInvalidStateTransition without touching the store.
func (s *Service) transition(ctx context.Context, requestID string, to request.State, mutate func(*request.Request)) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	if req.Quarantined {
		return request.Request{}, fmt.Errorf("request %s quarantined", requestID)
	}
	if !request.Allowed(req.State, to) {
		return request.Request{}, fmt.Errorf("%w: %s -> %s for request %s",
			request.ErrInvalidStateTransition, req.State, to, requestID)
	}

	req.State = to
	if mutate != nil {
		mutate(&req)
	}
	return s.store.UpdateRequest(ctx, req)
}

// MarkProofSubmitted records the proof that will attempt to fulfill the
// request. Valid only from Pending; this rejection is the first-writer-wins
// tie-break between racing proofs.
func (s *Service) MarkProofSubmitted(ctx context.Context, requestID, proofIdentity string) (request.Request, error) {
	return s.transition(ctx, requestID, request.StateProofSubmitted, func(req *request.Request) {
		req.ProofIdentity = proofIdentity
	})
}

// MarkVerifying records that the proof was handed to the external verifier.
func (s *Service) MarkVerifying(ctx context.Context, requestID string) (request.Request, error) {
	return s.transition(ctx, requestID, request.StateVerifying, nil)
}

// MarkVerified records a successful verification verdict.
func (s *Service) MarkVerified(ctx context.Context, requestID string) (request.Request, error) {
	return s.transition(ctx, requestID, request.StateVerified, nil)
}

// MarkRelaying records the start of cross-chain delivery. From here the
// request can no longer be cancelled; the fee-for-value exchange is
// committed.
func (s *Service) MarkRelaying(ctx context.Context, requestID string) (request.Request, error) {
	return s.transition(ctx, requestID, request.StateRelaying, nil)
}

// MarkFulfilled sets the terminal fields. Valid only from Relaying; a second
// call fails, so no request is ever fulfilled twice.
func (s *Service) MarkFulfilled(ctx context.Context, requestID, randomValue, proofIdentity string) (request.Request, error) {
	req, err := s.transition(ctx, requestID, request.StateFulfilled, func(req *request.Request) {
		now := time.Now().UTC()
		req.RandomValue = randomValue
		req.ProofIdentity = proofIdentity
		req.FulfilledAt = &now
	})
	if err != nil {
		return request.Request{}, err
	}
	metrics.CountRequestOutcome("fulfilled")
	s.log.WithFields(map[string]any{
		"request_id":     requestID,
		"proof_identity": proofIdentity,
	}).Info("request fulfilled")
	return req, nil
}

// MarkRejected terminates the request with a reason. Valid from
// ProofSubmitted or Verifying.
func (s *Service) MarkRejected(ctx context.Context, requestID, reason string) (request.Request, error) {
	req, err := s.transition(ctx, requestID, request.StateRejected, func(req *request.Request) {
		req.RejectReason = reason
		// A rejected request keeps no fulfillment fields.
		req.RandomValue = ""
	})
	if err != nil {
		return request.Request{}, err
	}
	metrics.CountRequestOutcome("rejected")
	s.log.WithFields(map[string]any{
		"request_id": requestID,
		"reason":     reason,
	}).Info("request rejected")
	return req, nil
}

// Expire moves an aged request with no verified proof to Expired. Valid only
// from Pending or ProofSubmitted; fee refunds are the chain contract's
// concern, not the ledger's.
func (s *Service) Expire(ctx context.Context, requestID string) (request.Request, error) {
	req, err := s.transition(ctx, requestID, request.StateExpired, nil)
	if err != nil {
		return request.Request{}, err
	}
	metrics.CountRequestOutcome("expired")
	s.log.WithField("request_id", requestID).Info("request expired")
	return req, nil
}

// Quarantine flags a request whose stored state contradicts the state
// machine. The record is left in place for operator inspection; no further
// transition will touch it.
func (s *Service) Quarantine(ctx context.Context, requestID, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	req.Quarantined = true
	if _, err := s.store.UpdateRequest(ctx, req); err != nil {
		return err
	}

	metrics.CountOperatorAlert("quarantine")
	s.log.WithFields(map[string]any{
		"request_id": requestID,
		"cause":      cause,
	}).Error("request quarantined; manual intervention required")
	return nil
}

// Get returns a request by ID.
func (s *Service) Get(ctx context.Context, requestID string) (request.Request, error) {
	return s.store.GetRequest(ctx, requestID)
}

// List returns all requests.
func (s *Service) List(ctx context.Context) ([]request.Request, error) {
	return s.store.ListRequests(ctx)
}

// ListByState returns requests in the given state.
func (s *Service) ListByState(ctx context.Context, state request.State) ([]request.Request, error) {
	return s.store.ListRequestsByState(ctx, state)
}

// Expirable returns requests eligible for expiry: Pending or ProofSubmitted
// older than the configured timeout.
func (s *Service) Expirable(ctx context.Context, now time.Time) ([]request.Request, error) {
	cutoff := now.Add(-s.opts.RequestTimeout)

	var result []request.Request
	for _, state := range []request.State{request.StatePending, request.StateProofSubmitted} {
		reqs, err := s.store.ListRequestsByState(ctx, state)
		if err != nil {
			return nil, err
		}
		for _, req := range reqs {
			if req.CreatedAt.Before(cutoff) {
				result = append(result, req)
			}
		}
	}
	return result, nil
}
