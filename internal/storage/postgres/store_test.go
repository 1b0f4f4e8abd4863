package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZKRand-Network/relay_layer/internal/domain/proof"
	"github.com/ZKRand-Network/relay_layer/internal/domain/relay"
	"github.com/ZKRand-Network/relay_layer/internal/domain/request"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestInsertProofUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO relay_proofs").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.InsertProof(context.Background(), proof.Record{
		ProofIdentity: "p1",
		RequestID:     "r1",
	})
	assert.ErrorIs(t, err, proof.ErrDuplicateProof)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertProofDefaultsStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO relay_proofs").
		WithArgs("p1", "r1", sqlmock.AnyArg(), string(proof.VerificationPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.InsertProof(context.Background(), proof.Record{
		ProofIdentity: "p1",
		RequestID:     "r1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProofUnknown(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE relay_proofs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateProof(context.Background(), proof.Record{
		ProofIdentity:      "missing",
		VerificationStatus: proof.VerificationVerified,
	})
	assert.ErrorIs(t, err, proof.ErrUnknownProof)
}

func TestUpdateRequestNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE relay_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateRequest(context.Background(), request.Request{ID: "missing"})
	assert.ErrorIs(t, err, request.ErrNotFound)
}

func TestUpdateJobNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE relay_jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateJob(context.Background(), relay.Job{ID: "missing", TargetChains: []string{"c1"}})
	assert.ErrorIs(t, err, relay.ErrJobNotFound)
}

func TestCreateRequestAssignsID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO relay_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, err := store.CreateRequest(context.Background(), request.Request{
		ChainID:   "c1",
		Requester: "r1",
		Seed:      strings.Repeat("ab", 32),
		State:     request.StatePending,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.False(t, req.CreatedAt.IsZero())
	assert.False(t, req.UpdatedAt.IsZero())
}

// TestPostgresIntegration exercises the full store against a real database.
// Set RELAY_TEST_DSN to run it.
func TestPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("RELAY_TEST_DSN")
	if dsn == "" {
		t.Skip("RELAY_TEST_DSN not set")
	}

	store, db, err := Open(dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	req, err := store.CreateRequest(ctx, request.Request{
		ChainID:   "it-chain",
		Requester: "it-requester",
		Seed:      strings.Repeat("cd", 32),
		FeePaid:   10,
		State:     request.StatePending,
	})
	require.NoError(t, err)

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "it-requester", got.Requester)

	err = store.InsertProof(ctx, proof.Record{
		ProofIdentity: "it-proof-" + req.ID,
		RequestID:     req.ID,
		SubmittedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	err = store.InsertProof(ctx, proof.Record{
		ProofIdentity: "it-proof-" + req.ID,
		RequestID:     req.ID,
	})
	assert.ErrorIs(t, err, proof.ErrDuplicateProof)

	job, err := store.CreateJob(ctx, relay.Job{
		ProofIdentity: "it-proof-" + req.ID,
		RequestID:     req.ID,
		State:         relay.JobVerifying,
		TargetChains:  []string{"it-chain"},
	})
	require.NoError(t, err)

	job.State = relay.JobRelaying
	job.Delivery("it-chain").Status = relay.ChainSent
	_, err = store.UpdateJob(ctx, job)
	require.NoError(t, err)

	active, err := store.ListActiveJobs(ctx)
	require.NoError(t, err)
	found := false
	for _, j := range active {
		if j.ID == job.ID && j.State == relay.JobRelaying {
			found = true
			require.Len(t, j.Deliveries, 1)
			assert.Equal(t, relay.ChainSent, j.Deliveries[0].Status)
		}
	}
	assert.True(t, found, "updated job missing from active list")
}
