package storage

import (
	"context"

	"github.com/ZKRand-Network/relay_layer/internal/domain/proof"
	"github.com/ZKRand-Network/relay_layer/internal/domain/relay"
	"github.com/ZKRand-Network/relay_layer/internal/domain/request"
)

// RequestStore persists randomness requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, req request.Request) (request.Request, error)
	UpdateRequest(ctx context.Context, req request.Request) (request.Request, error)
	GetRequest(ctx context.Context, id string) (request.Request, error)
	GetRequestBySeed(ctx context.Context, chainID, seed string) (request.Request, error)
	ListRequests(ctx context.Context) ([]request.Request, error)
	ListRequestsByState(ctx context.Context, state request.State) ([]request.Request, error)
}

// ProofStore persists proof records.
//
// InsertProof must be an atomic check-and-insert on the proof identity: a
// second insert with the same identity returns proof.ErrDuplicateProof
// regardless of concurrent callers.
type ProofStore interface {
	InsertProof(ctx context.Context, rec proof.Record) error
	UpdateProof(ctx context.Context, rec proof.Record) error
	GetProof(ctx context.Context, identity string) (proof.Record, error)
}

// RelayJobStore persists relay jobs so the coordinator can resume them
// after a restart.
type RelayJobStore interface {
	CreateJob(ctx context.Context, job relay.Job) (relay.Job, error)
	UpdateJob(ctx context.Context, job relay.Job) (relay.Job, error)
	GetJob(ctx context.Context, jobID string) (relay.Job, error)
	ListActiveJobs(ctx context.Context) ([]relay.Job, error)
}
