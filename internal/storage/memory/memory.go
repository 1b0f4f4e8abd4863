package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZKRand-Network/relay_layer/internal/domain/proof"
	"github.com/ZKRand-Network/relay_layer/internal/domain/relay"
	"github.com/ZKRand-Network/relay_layer/internal/domain/request"
	"github.com/ZKRand-Network/relay_layer/internal/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu             sync.RWMutex
	requests       map[string]request.Request
	requestsBySeed map[string]string // chainID+"/"+seed → request ID
	proofs         map[string]proof.Record
	jobs           map[string]relay.Job
}

var _ storage.RequestStore = (*Store)(nil)
var _ storage.ProofStore = (*Store)(nil)
var _ storage.RelayJobStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		requests:       make(map[string]request.Request),
		requestsBySeed: make(map[string]string),
		proofs:         make(map[string]proof.Record),
		jobs:           make(map[string]relay.Job),
	}
}

func seedKey(chainID, seed string) string { return chainID + "/" + seed }

// RequestStore implementation -------------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req request.Request) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	s.requests[req.ID] = req
	s.requestsBySeed[seedKey(req.ChainID, req.Seed)] = req.ID
	return req, nil
}

func (s *Store) UpdateRequest(_ context.Context, req request.Request) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[req.ID]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	req.CreatedAt = original.CreatedAt
	req.UpdatedAt = time.Now().UTC()

	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) GetRequest(_ context.Context, id string) (request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	return req, nil
}

func (s *Store) GetRequestBySeed(_ context.Context, chainID, seed string) (request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.requestsBySeed[seedKey(chainID, seed)]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	return s.requests[id], nil
}

func (s *Store) ListRequests(_ context.Context) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]request.Request, 0, len(s.requests))
	for _, req := range s.requests {
		result = append(result, req)
	}
	sortRequests(result)
	return result, nil
}

func (s *Store) ListRequestsByState(_ context.Context, state request.State) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []request.Request
	for _, req := range s.requests {
		if req.State == state {
			result = append(result, req)
		}
	}
	sortRequests(result)
	return result, nil
}

func sortRequests(reqs []request.Request) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

// ProofStore implementation ---------------------------------------------------

func (s *Store) InsertProof(_ context.Context, rec proof.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.proofs[rec.ProofIdentity]; exists {
		return proof.ErrDuplicateProof
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	if rec.VerificationStatus == "" {
		rec.VerificationStatus = proof.VerificationPending
	}
	s.proofs[rec.ProofIdentity] = rec
	return nil
}

func (s *Store) UpdateProof(_ context.Context, rec proof.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.proofs[rec.ProofIdentity]; !exists {
		return proof.ErrUnknownProof
	}
	s.proofs[rec.ProofIdentity] = rec
	return nil
}

func (s *Store) GetProof(_ context.Context, identity string) (proof.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.proofs[identity]
	if !ok {
		return proof.Record{}, proof.ErrUnknownProof
	}
	return rec, nil
}

// RelayJobStore implementation ------------------------------------------------

func (s *Store) CreateJob(_ context.Context, job relay.Job) (relay.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	s.jobs[job.ID] = cloneJob(job)
	return job, nil
}

func (s *Store) UpdateJob(_ context.Context, job relay.Job) (relay.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.jobs[job.ID]
	if !ok {
		return relay.Job{}, relay.ErrJobNotFound
	}
	job.CreatedAt = original.CreatedAt
	job.UpdatedAt = time.Now().UTC()

	s.jobs[job.ID] = cloneJob(job)
	return job, nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (relay.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return relay.Job{}, relay.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) ListActiveJobs(_ context.Context) ([]relay.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []relay.Job
	for _, job := range s.jobs {
		if !job.State.Terminal() {
			result = append(result, cloneJob(job))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func cloneJob(job relay.Job) relay.Job {
	job.TargetChains = append([]string(nil), job.TargetChains...)
	job.Deliveries = append([]relay.ChainDelivery(nil), job.Deliveries...)
	job.ProofPayload = append([]byte(nil), job.ProofPayload...)
	return job
}
