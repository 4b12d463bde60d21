// Copyright 2025 Certen Protocol
//
// Repository for cross-shard coordination state: foreign proposals,
// parked blocks awaiting missing transactions, and substate pledges
// (pkg/crossshard's persisted backing store).

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/types"
)

// CrossShardRepository persists foreign-proposal bookkeeping.
type CrossShardRepository struct {
	client *Client
}

// NewCrossShardRepository constructs a CrossShardRepository over client.
func NewCrossShardRepository(client *Client) *CrossShardRepository {
	return &CrossShardRepository{client: client}
}

// RecordForeignProposal stores a foreign shard group's justified block.
// The coordinator calls it before merging the block's evidence.
func (r *CrossShardRepository) RecordForeignProposal(ctx context.Context, group types.ShardGroup, epoch types.Epoch, qc *types.QuorumCertificate, block *types.Block) error {
	blockJSON, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("database: marshal foreign block: %w", err)
	}
	_, err = r.client.ExecContext(ctx, `
		INSERT INTO foreign_proposals (block_id, shard_group, epoch, qc_id, block)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (block_id) DO NOTHING`,
		block.BlockID.Bytes(), uint32(group), uint64(epoch), qc.QCID.Bytes(), blockJSON)
	if err != nil {
		return fmt.Errorf("database: record foreign proposal: %w", err)
	}
	return nil
}

// Park stashes a foreign block that references transactions this shard
// group has not yet observed, and indexes it by each missing tx id so it
// can be drained once those transactions arrive.
func (r *CrossShardRepository) Park(ctx context.Context, group types.ShardGroup, block *types.Block, missing []types.TxID) error {
	blockJSON, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("database: marshal parked block: %w", err)
	}
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return fmt.Errorf("database: marshal missing tx list: %w", err)
	}

	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("database: begin park tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Tx().ExecContext(ctx, `
		INSERT INTO foreign_parked_blocks (block_id, shard_group, missing_tx_ids, block)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (block_id) DO UPDATE SET missing_tx_ids = EXCLUDED.missing_tx_ids`,
		block.BlockID.Bytes(), uint32(group), missingJSON, blockJSON)
	if err != nil {
		return fmt.Errorf("database: park foreign block: %w", err)
	}

	for _, txID := range missing {
		if _, err := tx.Tx().ExecContext(ctx, `
			INSERT INTO foreign_missing_transactions (tx_id, block_id) VALUES ($1,$2)
			ON CONFLICT (tx_id, block_id) DO NOTHING`,
			txID.Bytes(), block.BlockID.Bytes()); err != nil {
			return fmt.Errorf("database: index missing transaction: %w", err)
		}
	}

	return tx.Commit()
}

// DrainOn returns every parked block that was waiting (even partially) on
// txID, for the caller to re-check full readiness against.
func (r *CrossShardRepository) DrainOn(ctx context.Context, txID types.TxID) ([]*types.Block, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT p.block
		FROM foreign_parked_blocks p
		JOIN foreign_missing_transactions m ON m.block_id = p.block_id
		WHERE m.tx_id = $1`, txID.Bytes())
	if err != nil {
		return nil, fmt.Errorf("database: drain on transaction: %w", err)
	}
	defer rows.Close()

	var out []*types.Block
	for rows.Next() {
		var blockJSON []byte
		if err := rows.Scan(&blockJSON); err != nil {
			return nil, fmt.Errorf("database: scan parked block: %w", err)
		}
		var b types.Block
		if err := json.Unmarshal(blockJSON, &b); err != nil {
			return nil, fmt.Errorf("database: unmarshal parked block: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// Unpark removes a parked block and its missing-transaction index entries
// once it has become fully satisfiable (or is abandoned on epoch end).
func (r *CrossShardRepository) Unpark(ctx context.Context, blockID types.BlockID) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("database: begin unpark tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Tx().ExecContext(ctx, `DELETE FROM foreign_missing_transactions WHERE block_id = $1`, blockID.Bytes()); err != nil {
		return fmt.Errorf("database: clear missing transaction index: %w", err)
	}
	if _, err := tx.Tx().ExecContext(ctx, `DELETE FROM foreign_parked_blocks WHERE block_id = $1`, blockID.Bytes()); err != nil {
		return fmt.Errorf("database: delete parked block: %w", err)
	}
	return tx.Commit()
}

// ParkedCount reports how many blocks are currently parked, for the
// ForeignProposalsParked gauge.
func (r *CrossShardRepository) ParkedCount(ctx context.Context) (int, error) {
	var n int
	err := r.client.QueryRowContext(ctx, `SELECT COUNT(*) FROM foreign_parked_blocks`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("database: parked count: %w", err)
	}
	return n, nil
}

// RecordPledge stores a shard group's declared lock over a substate
// version for a transaction.
func (r *CrossShardRepository) RecordPledge(ctx context.Context, p *types.SubstatePledge) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO foreign_substate_pledges (tx_id, substate_id, version, lock_type, shard_group)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (tx_id, substate_id, version, shard_group) DO UPDATE SET lock_type = EXCLUDED.lock_type`,
		p.TxID.Bytes(), p.SubstateID.Bytes(), uint64(p.Version), string(p.LockType), uint32(p.ShardGroup))
	if err != nil {
		return fmt.Errorf("database: record pledge: %w", err)
	}
	return nil
}

// PledgesFor returns every recorded pledge for a transaction, across all
// shard groups that have reported in.
func (r *CrossShardRepository) PledgesFor(ctx context.Context, txID types.TxID) ([]*types.SubstatePledge, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT tx_id, substate_id, version, lock_type, shard_group
		FROM foreign_substate_pledges WHERE tx_id = $1`, txID.Bytes())
	if err != nil {
		return nil, fmt.Errorf("database: pledges for transaction: %w", err)
	}
	defer rows.Close()

	var out []*types.SubstatePledge
	for rows.Next() {
		var txIDBytes, substateID []byte
		var version uint64
		var lockType string
		var shardGroup uint32
		if err := rows.Scan(&txIDBytes, &substateID, &version, &lockType, &shardGroup); err != nil {
			return nil, fmt.Errorf("database: scan pledge: %w", err)
		}
		out = append(out, &types.SubstatePledge{
			TxID:       types.HashFromBytes(txIDBytes),
			SubstateID: types.HashFromBytes(substateID),
			Version:    types.Version(version),
			LockType:   types.LockType(lockType),
			ShardGroup: types.ShardGroup(shardGroup),
		})
	}
	return out, rows.Err()
}

// GetForeignProposal fetches a previously recorded foreign proposal.
func (r *CrossShardRepository) GetForeignProposal(ctx context.Context, blockID types.BlockID) (*types.Block, error) {
	var blockJSON []byte
	err := r.client.QueryRowContext(ctx, `SELECT block FROM foreign_proposals WHERE block_id = $1`, blockID.Bytes()).Scan(&blockJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get foreign proposal: %w", err)
	}
	var b types.Block
	if err := json.Unmarshal(blockJSON, &b); err != nil {
		return nil, fmt.Errorf("database: unmarshal foreign proposal: %w", err)
	}
	return &b, nil
}
