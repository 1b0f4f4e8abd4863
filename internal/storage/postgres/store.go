// Package postgres implements the storage interfaces over PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ZKRand-Network/relay_layer/internal/domain/proof"
	"github.com/ZKRand-Network/relay_layer/internal/domain/relay"
	"github.com/ZKRand-Network/relay_layer/internal/domain/request"
	"github.com/ZKRand-Network/relay_layer/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.RequestStore = (*Store)(nil)
var _ storage.ProofStore = (*Store)(nil)
var _ storage.RelayJobStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL, runs migrations and returns a ready store.
func Open(dsn string) (*Store, *sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return New(db), db, nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// RequestStore implementation -------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req request.Request) (request.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_requests
			(id, chain_id, requester, seed, fee_paid, state, random_value,
			 proof_identity, reject_reason, quarantined, created_at, updated_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, req.ID, req.ChainID, req.Requester, req.Seed, req.FeePaid, req.State,
		req.RandomValue, req.ProofIdentity, req.RejectReason, req.Quarantined,
		req.CreatedAt, req.UpdatedAt, req.FulfilledAt)
	if err != nil {
		return request.Request{}, err
	}
	return req, nil
}

func (s *Store) UpdateRequest(ctx context.Context, req request.Request) (request.Request, error) {
	req.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE relay_requests
		SET state = $2, random_value = $3, proof_identity = $4, reject_reason = $5,
		    quarantined = $6, updated_at = $7, fulfilled_at = $8
		WHERE id = $1
	`, req.ID, req.State, req.RandomValue, req.ProofIdentity, req.RejectReason,
		req.Quarantined, req.UpdatedAt, req.FulfilledAt)
	if err != nil {
		return request.Request{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return request.Request{}, request.ErrNotFound
	}
	return req, nil
}

const requestColumns = `id, chain_id, requester, seed, fee_paid, state, random_value,
	proof_identity, reject_reason, quarantined, created_at, updated_at, fulfilled_at`

func (s *Store) GetRequest(ctx context.Context, id string) (request.Request, error) {
	var req request.Request
	err := s.db.GetContext(ctx, &req,
		`SELECT `+requestColumns+` FROM relay_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return request.Request{}, request.ErrNotFound
	}
	if err != nil {
		return request.Request{}, err
	}
	return req, nil
}

func (s *Store) GetRequestBySeed(ctx context.Context, chainID, seed string) (request.Request, error) {
	var req request.Request
	err := s.db.GetContext(ctx, &req,
		`SELECT `+requestColumns+` FROM relay_requests WHERE chain_id = $1 AND seed = $2 LIMIT 1`,
		chainID, seed)
	if errors.Is(err, sql.ErrNoRows) {
		return request.Request{}, request.ErrNotFound
	}
	if err != nil {
		return request.Request{}, err
	}
	return req, nil
}

func (s *Store) ListRequests(ctx context.Context) ([]request.Request, error) {
	var result []request.Request
	err := s.db.SelectContext(ctx, &result,
		`SELECT `+requestColumns+` FROM relay_requests ORDER BY created_at`)
	return result, err
}

func (s *Store) ListRequestsByState(ctx context.Context, state request.State) ([]request.Request, error) {
	var result []request.Request
	err := s.db.SelectContext(ctx, &result,
		`SELECT `+requestColumns+` FROM relay_requests WHERE state = $1 ORDER BY created_at`, state)
	return result, err
}

// ProofStore implementation ---------------------------------------------------

func (s *Store) InsertProof(ctx context.Context, rec proof.Record) error {
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	if rec.VerificationStatus == "" {
		rec.VerificationStatus = proof.VerificationPending
	}

	// The primary key makes the check-and-insert atomic on the database side.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_proofs (proof_identity, request_id, submitted_at, verification_status)
		VALUES ($1, $2, $3, $4)
	`, rec.ProofIdentity, rec.RequestID, rec.SubmittedAt, rec.VerificationStatus)
	if isUniqueViolation(err) {
		return proof.ErrDuplicateProof
	}
	return err
}

func (s *Store) UpdateProof(ctx context.Context, rec proof.Record) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE relay_proofs SET verification_status = $2 WHERE proof_identity = $1
	`, rec.ProofIdentity, rec.VerificationStatus)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return proof.ErrUnknownProof
	}
	return nil
}

func (s *Store) GetProof(ctx context.Context, identity string) (proof.Record, error) {
	var rec proof.Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT proof_identity, request_id, submitted_at, verification_status
		FROM relay_proofs WHERE proof_identity = $1
	`, identity)
	if errors.Is(err, sql.ErrNoRows) {
		return proof.Record{}, proof.ErrUnknownProof
	}
	if err != nil {
		return proof.Record{}, err
	}
	return rec, nil
}

// RelayJobStore implementation ------------------------------------------------

type jobRow struct {
	ID            string     `db:"id"`
	VerifierJobID string     `db:"verifier_job_id"`
	ProofIdentity string     `db:"proof_identity"`
	ProofPayload  []byte     `db:"proof_payload"`
	RequestID     string     `db:"request_id"`
	RandomValue   string     `db:"random_value"`
	State         string     `db:"state"`
	TargetChains  []byte     `db:"target_chains"`
	Deliveries    []byte     `db:"deliveries"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	LastPolledAt  *time.Time `db:"last_polled_at"`
}

func (r jobRow) toJob() (relay.Job, error) {
	job := relay.Job{
		ID:            r.ID,
		VerifierJobID: r.VerifierJobID,
		ProofIdentity: r.ProofIdentity,
		ProofPayload:  r.ProofPayload,
		RequestID:     r.RequestID,
		RandomValue:   r.RandomValue,
		State:         relay.JobState(r.State),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		LastPolledAt:  r.LastPolledAt,
	}
	if err := json.Unmarshal(r.TargetChains, &job.TargetChains); err != nil {
		return relay.Job{}, fmt.Errorf("decode target chains: %w", err)
	}
	if err := json.Unmarshal(r.Deliveries, &job.Deliveries); err != nil {
		return relay.Job{}, fmt.Errorf("decode deliveries: %w", err)
	}
	return job, nil
}

func encodeJob(job relay.Job) (targetChains, deliveries []byte, err error) {
	targetChains, err = json.Marshal(job.TargetChains)
	if err != nil {
		return nil, nil, err
	}
	if job.Deliveries == nil {
		job.Deliveries = []relay.ChainDelivery{}
	}
	deliveries, err = json.Marshal(job.Deliveries)
	return targetChains, deliveries, err
}

func (s *Store) CreateJob(ctx context.Context, job relay.Job) (relay.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	targetChains, deliveries, err := encodeJob(job)
	if err != nil {
		return relay.Job{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relay_jobs
			(id, verifier_job_id, proof_identity, proof_payload, request_id, random_value,
			 state, target_chains, deliveries, created_at, updated_at, last_polled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, job.ID, job.VerifierJobID, job.ProofIdentity, job.ProofPayload, job.RequestID,
		job.RandomValue, job.State, targetChains, deliveries, job.CreatedAt, job.UpdatedAt,
		job.LastPolledAt)
	if err != nil {
		return relay.Job{}, err
	}
	return job, nil
}

func (s *Store) UpdateJob(ctx context.Context, job relay.Job) (relay.Job, error) {
	job.UpdatedAt = time.Now().UTC()

	targetChains, deliveries, err := encodeJob(job)
	if err != nil {
		return relay.Job{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE relay_jobs
		SET verifier_job_id = $2, proof_payload = $3, random_value = $4, state = $5,
		    target_chains = $6, deliveries = $7, updated_at = $8, last_polled_at = $9
		WHERE id = $1
	`, job.ID, job.VerifierJobID, job.ProofPayload, job.RandomValue, job.State,
		targetChains, deliveries, job.UpdatedAt, job.LastPolledAt)
	if err != nil {
		return relay.Job{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return relay.Job{}, relay.ErrJobNotFound
	}
	return job, nil
}

const jobColumns = `id, verifier_job_id, proof_identity, proof_payload, request_id,
	random_value, state, target_chains, deliveries, created_at, updated_at, last_polled_at`

func (s *Store) GetJob(ctx context.Context, jobID string) (relay.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+jobColumns+` FROM relay_jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return relay.Job{}, relay.ErrJobNotFound
	}
	if err != nil {
		return relay.Job{}, err
	}
	return row.toJob()
}

func (s *Store) ListActiveJobs(ctx context.Context) ([]relay.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+jobColumns+` FROM relay_jobs
		WHERE state NOT IN ($1, $2, $3, $4)
		ORDER BY created_at
	`, relay.JobFulfilled, relay.JobAbandoned, relay.JobRejected, relay.JobFailed)
	if err != nil {
		return nil, err
	}

	result := make([]relay.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toJob()
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, nil
}
