package proofs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ZKRand-Network/relay_layer/internal/domain/proof"
	"github.com/ZKRand-Network/relay_layer/internal/storage"
)

// RedisStore is a ProofStore over Redis. SET NX gives the atomic
// check-and-insert; deployments running several relayd replicas point them
// at one Redis so admission stays serialized across processes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ storage.ProofStore = (*RedisStore)(nil)

// NewRedisStore constructs a Redis-backed proof store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "relay:proof:"}
}

func (s *RedisStore) key(identity string) string { return s.prefix + identity }

func (s *RedisStore) InsertProof(ctx context.Context, rec proof.Record) error {
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	if rec.VerificationStatus == "" {
		rec.VerificationStatus = proof.VerificationPending
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode proof record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(rec.ProofIdentity), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("setnx proof record: %w", err)
	}
	if !ok {
		return proof.ErrDuplicateProof
	}
	return nil
}

func (s *RedisStore) UpdateProof(ctx context.Context, rec proof.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode proof record: %w", err)
	}

	// SET XX only succeeds when the key already exists.
	ok, err := s.client.SetXX(ctx, s.key(rec.ProofIdentity), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("update proof record: %w", err)
	}
	if !ok {
		return proof.ErrUnknownProof
	}
	return nil
}

func (s *RedisStore) GetProof(ctx context.Context, identity string) (proof.Record, error) {
	payload, err := s.client.Get(ctx, s.key(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return proof.Record{}, proof.ErrUnknownProof
	}
	if err != nil {
		return proof.Record{}, fmt.Errorf("get proof record: %w", err)
	}

	var rec proof.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return proof.Record{}, fmt.Errorf("decode proof record: %w", err)
	}
	return rec, nil
}
