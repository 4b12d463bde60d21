// Copyright 2025 Certen Protocol
//
// Repository for the safety-critical consensus singletons (HighQC,
// LeafBlock, LockedBlock, LastVoted, LastExecuted, LastProposed,
// LastSentVote) and epoch checkpoints. pkg/ledger.Store is the hot-path
// KV cache in front of this repository; every write here is the
// durable copy of record.

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/types"
)

// SingletonRepository persists the append-only safety singleton history,
// one row per write, keyed by epoch.
type SingletonRepository struct {
	client *Client
}

// NewSingletonRepository constructs a SingletonRepository over client.
func NewSingletonRepository(client *Client) *SingletonRepository {
	return &SingletonRepository{client: client}
}

func (r *SingletonRepository) appendJSON(ctx context.Context, table string, epoch types.Epoch, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("database: marshal %s: %w", table, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (epoch, value) VALUES ($1,$2)`, table)
	if _, err := r.client.ExecContext(ctx, query, uint64(epoch), payload); err != nil {
		return fmt.Errorf("database: append %s: %w", table, err)
	}
	return nil
}

func (r *SingletonRepository) latestJSON(ctx context.Context, table string, epoch types.Epoch, out interface{}) error {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE epoch = $1 ORDER BY id DESC LIMIT 1`, table)
	var payload []byte
	err := r.client.QueryRowContext(ctx, query, uint64(epoch)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("database: latest %s: %w", table, err)
	}
	return json.Unmarshal(payload, out)
}

// AppendLastVoted durably records a new LastVoted value for epoch.
func (r *SingletonRepository) AppendLastVoted(ctx context.Context, epoch types.Epoch, v *types.BlockRef) error {
	return r.appendJSON(ctx, "last_voted", epoch, v)
}

// LatestLastVoted returns the most recently recorded LastVoted for epoch.
func (r *SingletonRepository) LatestLastVoted(ctx context.Context, epoch types.Epoch) (*types.BlockRef, error) {
	var v types.BlockRef
	if err := r.latestJSON(ctx, "last_voted", epoch, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AppendLastExecuted durably records a new LastExecuted value for epoch.
func (r *SingletonRepository) AppendLastExecuted(ctx context.Context, epoch types.Epoch, v *types.BlockRef) error {
	return r.appendJSON(ctx, "last_executed", epoch, v)
}

// LatestLastExecuted returns the most recently recorded LastExecuted for epoch.
func (r *SingletonRepository) LatestLastExecuted(ctx context.Context, epoch types.Epoch) (*types.BlockRef, error) {
	var v types.BlockRef
	if err := r.latestJSON(ctx, "last_executed", epoch, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AppendLastProposed durably records a new LastProposed value for epoch.
func (r *SingletonRepository) AppendLastProposed(ctx context.Context, epoch types.Epoch, v *types.BlockRef) error {
	return r.appendJSON(ctx, "last_proposed", epoch, v)
}

// LatestLastProposed returns the most recently recorded LastProposed for epoch.
func (r *SingletonRepository) LatestLastProposed(ctx context.Context, epoch types.Epoch) (*types.BlockRef, error) {
	var v types.BlockRef
	if err := r.latestJSON(ctx, "last_proposed", epoch, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AppendLastSentVote durably records a new LastSentVote value for epoch.
func (r *SingletonRepository) AppendLastSentVote(ctx context.Context, epoch types.Epoch, v *types.VoteMessage) error {
	return r.appendJSON(ctx, "last_sent_vote", epoch, v)
}

// LatestLastSentVote returns the most recently recorded LastSentVote for epoch.
func (r *SingletonRepository) LatestLastSentVote(ctx context.Context, epoch types.Epoch) (*types.VoteMessage, error) {
	var v types.VoteMessage
	if err := r.latestJSON(ctx, "last_sent_vote", epoch, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AppendHighQC durably records a new HighQC for epoch.
func (r *SingletonRepository) AppendHighQC(ctx context.Context, epoch types.Epoch, qc *types.QuorumCertificate) error {
	payload, err := json.Marshal(qc)
	if err != nil {
		return fmt.Errorf("database: marshal high qc: %w", err)
	}
	if _, err := r.client.ExecContext(ctx, `INSERT INTO high_qcs (epoch, qc) VALUES ($1,$2)`, uint64(epoch), payload); err != nil {
		return fmt.Errorf("database: append high qc: %w", err)
	}
	return nil
}

// LatestHighQC returns the most recently recorded HighQC for epoch.
func (r *SingletonRepository) LatestHighQC(ctx context.Context, epoch types.Epoch) (*types.QuorumCertificate, error) {
	var payload []byte
	err := r.client.QueryRowContext(ctx, `SELECT qc FROM high_qcs WHERE epoch = $1 ORDER BY id DESC LIMIT 1`, uint64(epoch)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: latest high qc: %w", err)
	}
	var qc types.QuorumCertificate
	if err := json.Unmarshal(payload, &qc); err != nil {
		return nil, fmt.Errorf("database: unmarshal high qc: %w", err)
	}
	return &qc, nil
}

// AppendLeafBlock durably records a new LeafBlock for epoch.
func (r *SingletonRepository) AppendLeafBlock(ctx context.Context, epoch types.Epoch, v *types.BlockRef) error {
	return r.appendJSON(ctx, "leaf_blocks", epoch, v)
}

// LatestLeafBlock returns the most recently recorded LeafBlock for epoch.
func (r *SingletonRepository) LatestLeafBlock(ctx context.Context, epoch types.Epoch) (*types.BlockRef, error) {
	var v types.BlockRef
	if err := r.latestJSON(ctx, "leaf_blocks", epoch, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AppendLockedBlock durably records a new LockedBlock for epoch.
func (r *SingletonRepository) AppendLockedBlock(ctx context.Context, epoch types.Epoch, v *types.BlockRef) error {
	return r.appendJSON(ctx, "locked_block", epoch, v)
}

// LatestLockedBlock returns the most recently recorded LockedBlock for epoch.
func (r *SingletonRepository) LatestLockedBlock(ctx context.Context, epoch types.Epoch) (*types.BlockRef, error) {
	var v types.BlockRef
	if err := r.latestJSON(ctx, "locked_block", epoch, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// PutEpochCheckpoint records the checkpoint written when an EndEpoch
// command commits, closing out epoch's chain.
func (r *SingletonRepository) PutEpochCheckpoint(ctx context.Context, c *types.EpochCheckpoint) error {
	qcsJSON, err := json.Marshal(c.QCs)
	if err != nil {
		return fmt.Errorf("database: marshal checkpoint qcs: %w", err)
	}
	rootsJSON, err := json.Marshal(c.ShardRoots)
	if err != nil {
		return fmt.Errorf("database: marshal checkpoint shard roots: %w", err)
	}
	_, err = r.client.ExecContext(ctx, `
		INSERT INTO epoch_checkpoints (epoch, commit_block, qcs, shard_roots)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (epoch) DO UPDATE SET commit_block = EXCLUDED.commit_block, qcs = EXCLUDED.qcs, shard_roots = EXCLUDED.shard_roots`,
		uint64(c.Epoch), c.CommitBlock.Bytes(), qcsJSON, rootsJSON)
	if err != nil {
		return fmt.Errorf("database: put epoch checkpoint: %w", err)
	}
	return nil
}

// GetEpochCheckpoint fetches the checkpoint for epoch, if one was recorded.
func (r *SingletonRepository) GetEpochCheckpoint(ctx context.Context, epoch types.Epoch) (*types.EpochCheckpoint, error) {
	var commitBlock []byte
	var qcsJSON, rootsJSON []byte
	err := r.client.QueryRowContext(ctx, `SELECT commit_block, qcs, shard_roots FROM epoch_checkpoints WHERE epoch = $1`, uint64(epoch)).
		Scan(&commitBlock, &qcsJSON, &rootsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get epoch checkpoint: %w", err)
	}

	var qcs []types.QuorumCertificate
	if err := json.Unmarshal(qcsJSON, &qcs); err != nil {
		return nil, fmt.Errorf("database: unmarshal checkpoint qcs: %w", err)
	}
	var roots map[types.ShardGroup]types.Hash32
	if err := json.Unmarshal(rootsJSON, &roots); err != nil {
		return nil, fmt.Errorf("database: unmarshal checkpoint shard roots: %w", err)
	}

	return &types.EpochCheckpoint{
		Epoch:       epoch,
		CommitBlock: types.HashFromBytes(commitBlock),
		QCs:         qcs,
		ShardRoots:  roots,
	}, nil
}

// EpochEnded reports whether epoch already has a checkpoint recorded --
// a later proposal still naming epoch must be rejected.
func (r *SingletonRepository) EpochEnded(ctx context.Context, epoch types.Epoch) (bool, error) {
	_, err := r.GetEpochCheckpoint(ctx, epoch)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("database: check epoch ended: %w", err)
	}
	return true, nil
}

// RecordEviction appends an evicted validator to the audit trail.
func (r *SingletonRepository) RecordEviction(ctx context.Context, epoch types.Epoch, pubKey types.PublicKey, reason string) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO evicted_nodes (public_key, epoch, reason) VALUES ($1,$2,$3)
		ON CONFLICT (public_key) DO NOTHING`,
		pubKey.Bytes(), uint64(epoch), reason)
	if err != nil {
		return fmt.Errorf("database: record eviction: %w", err)
	}
	return nil
}
