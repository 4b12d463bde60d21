// Copyright 2025 Certen Protocol
//
// Repository for blocks and quorum certificates (pkg/blockstore's
// persisted backing store).

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/types"
)

// BlockRepository persists blocks and quorum certificates.
type BlockRepository struct {
	client *Client
}

// NewBlockRepository constructs a BlockRepository over client.
func NewBlockRepository(client *Client) *BlockRepository {
	return &BlockRepository{client: client}
}

// InsertBlock persists a new block. Blocks are immutable once inserted;
// later commit/prune state is tracked by SetCommitted/SetJustified.
func (r *BlockRepository) InsertBlock(ctx context.Context, b *types.Block) error {
	commandsJSON, err := json.Marshal(b.Commands)
	if err != nil {
		return fmt.Errorf("database: marshal commands: %w", err)
	}

	var qcID []byte
	if b.Justify != nil {
		qcID = b.Justify.QCID.Bytes()
	}

	query := `
		INSERT INTO blocks (
			block_id, parent_id, qc_id, height, epoch, shard_group, proposed_by,
			state_merkle_root, command_merkle_root, commands, total_leader_fee,
			is_committed, is_justified, is_dummy, timestamp,
			base_layer_block_hash, base_layer_block_height, signature
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (block_id) DO NOTHING`

	_, err = r.client.ExecContext(ctx, query,
		b.BlockID.Bytes(), b.Header.ParentID.Bytes(), qcID,
		uint64(b.Header.Height), uint64(b.Header.Epoch), uint32(b.Header.ShardGroup),
		b.Header.ProposedBy.Bytes(), b.Header.StateMerkleRoot.Bytes(),
		b.Header.CommandMerkleRoot.Bytes(), commandsJSON, b.TotalLeaderFee,
		b.IsCommitted, b.IsJustified, b.Header.IsDummy, b.Header.Timestamp,
		b.Header.BaseLayer.Hash.Bytes(), b.Header.BaseLayer.Height, b.Signature,
	)
	if err != nil {
		return fmt.Errorf("database: insert block: %w", err)
	}
	return nil
}

// GetBlock fetches a block by id.
func (r *BlockRepository) GetBlock(ctx context.Context, id types.BlockID) (*types.Block, error) {
	query := `
		SELECT block_id, parent_id, qc_id, height, epoch, shard_group, proposed_by,
			state_merkle_root, command_merkle_root, commands, total_leader_fee,
			is_committed, is_justified, is_dummy, timestamp,
			base_layer_block_hash, base_layer_block_height, signature
		FROM blocks WHERE block_id = $1`

	row := r.client.QueryRowContext(ctx, query, id.Bytes())
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get block: %w", err)
	}
	return b, nil
}

// ChildrenOf returns every block whose parent_id is parent, ordered by
// height (used by the blockstore's fork-resolution walk).
func (r *BlockRepository) ChildrenOf(ctx context.Context, parent types.BlockID) ([]*types.Block, error) {
	query := `
		SELECT block_id, parent_id, qc_id, height, epoch, shard_group, proposed_by,
			state_merkle_root, command_merkle_root, commands, total_leader_fee,
			is_committed, is_justified, is_dummy, timestamp,
			base_layer_block_hash, base_layer_block_height, signature
		FROM blocks WHERE parent_id = $1 ORDER BY height ASC`

	rows, err := r.client.QueryContext(ctx, query, parent.Bytes())
	if err != nil {
		return nil, fmt.Errorf("database: children of block: %w", err)
	}
	defer rows.Close()

	var out []*types.Block
	for rows.Next() {
		b, err := scanBlockRows(rows)
		if err != nil {
			return nil, fmt.Errorf("database: scan child block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetJustified marks a block justified once its QC is formed/observed.
func (r *BlockRepository) SetJustified(ctx context.Context, id types.BlockID, qc *types.QuorumCertificate) error {
	_, err := r.client.ExecContext(ctx,
		`UPDATE blocks SET is_justified = true WHERE block_id = $1`,
		id.Bytes())
	if err != nil {
		return fmt.Errorf("database: set justified: %w", err)
	}
	return r.upsertQC(ctx, qc)
}

// SetCommitted marks a block committed by the three-chain commit rule.
func (r *BlockRepository) SetCommitted(ctx context.Context, id types.BlockID) error {
	_, err := r.client.ExecContext(ctx, `UPDATE blocks SET is_committed = true WHERE block_id = $1`, id.Bytes())
	if err != nil {
		return fmt.Errorf("database: set committed: %w", err)
	}
	return nil
}

// DeletePruned removes a non-committed sibling block, recording why in
// the diagnostic forensics table so a block is never silently lost.
func (r *BlockRepository) DeletePruned(ctx context.Context, b *types.Block, reason string) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("database: begin prune tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Tx().ExecContext(ctx,
		`INSERT INTO diagnostic_deleted_blocks (block_id, epoch, height, reason) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (block_id) DO NOTHING`,
		b.BlockID.Bytes(), uint64(b.Header.Epoch), uint64(b.Header.Height), reason); err != nil {
		return fmt.Errorf("database: record pruned block: %w", err)
	}
	if _, err := tx.Tx().ExecContext(ctx, `DELETE FROM blocks WHERE block_id = $1`, b.BlockID.Bytes()); err != nil {
		return fmt.Errorf("database: delete pruned block: %w", err)
	}
	return tx.Commit()
}

func (r *BlockRepository) upsertQC(ctx context.Context, qc *types.QuorumCertificate) error {
	leafJSON, err := json.Marshal(qc.LeafHashes)
	if err != nil {
		return fmt.Errorf("database: marshal leaf hashes: %w", err)
	}
	query := `
		INSERT INTO quorum_certificates (
			qc_id, block_id, parent_id, height, epoch, shard_group, decision,
			aggregate_signature, signer_bitmap, leaf_hashes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (qc_id) DO NOTHING`
	_, err = r.client.ExecContext(ctx, query,
		qc.QCID.Bytes(), qc.HeaderHash.Bytes(), qc.ParentID.Bytes(),
		uint64(qc.Height), uint64(qc.Epoch), uint32(qc.ShardGroup), qc.Decision,
		qc.AggregateSignature, qc.SignerBitmap, leafJSON)
	if err != nil {
		return fmt.Errorf("database: upsert qc: %w", err)
	}
	return nil
}

// GetQC fetches a quorum certificate by id.
func (r *BlockRepository) GetQC(ctx context.Context, id types.QCID) (*types.QuorumCertificate, error) {
	query := `
		SELECT qc_id, block_id, parent_id, height, epoch, shard_group, decision,
			aggregate_signature, signer_bitmap, leaf_hashes
		FROM quorum_certificates WHERE qc_id = $1`
	row := r.client.QueryRowContext(ctx, query, id.Bytes())

	var (
		qcID, blockID, parentID []byte
		height, epoch           uint64
		shardGroup              uint32
		decision                string
		aggSig, bitmap          []byte
		leafJSON                []byte
	)
	if err := row.Scan(&qcID, &blockID, &parentID, &height, &epoch, &shardGroup, &decision, &aggSig, &bitmap, &leafJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQCNotFound
		}
		return nil, fmt.Errorf("database: get qc: %w", err)
	}

	var leaves []types.Hash32
	if err := json.Unmarshal(leafJSON, &leaves); err != nil {
		return nil, fmt.Errorf("database: unmarshal leaf hashes: %w", err)
	}

	return &types.QuorumCertificate{
		QCID:               types.HashFromBytes(qcID),
		HeaderHash:         types.HashFromBytes(blockID),
		ParentID:           types.HashFromBytes(parentID),
		Height:             types.Height(height),
		Epoch:              types.Epoch(epoch),
		ShardGroup:         types.ShardGroup(shardGroup),
		Decision:           types.Decision(decision),
		AggregateSignature: aggSig,
		SignerBitmap:       bitmap,
		LeafHashes:         leaves,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBlock(row *sql.Row) (*types.Block, error) { return scanBlockGeneric(row) }

func scanBlockRows(rows *sql.Rows) (*types.Block, error) { return scanBlockGeneric(rows) }

func scanBlockGeneric(row rowScanner) (*types.Block, error) {
	var (
		blockID, parentID, proposedBy []byte
		qcID                          []byte
		height, epoch                 uint64
		shardGroup                    uint32
		stateRoot, cmdRoot            []byte
		commandsJSON                  []byte
		totalLeaderFee                uint64
		isCommitted, isJustified      bool
		isDummy                       bool
		timestamp                     sql.NullTime
		baseLayerHash                 []byte
		baseLayerHeight               sql.NullInt64
		signature                     []byte
	)

	if err := row.Scan(&blockID, &parentID, &qcID, &height, &epoch, &shardGroup, &proposedBy,
		&stateRoot, &cmdRoot, &commandsJSON, &totalLeaderFee, &isCommitted, &isJustified,
		&isDummy, &timestamp, &baseLayerHash, &baseLayerHeight, &signature); err != nil {
		return nil, err
	}

	var commands []types.Command
	if err := json.Unmarshal(commandsJSON, &commands); err != nil {
		return nil, fmt.Errorf("database: unmarshal commands: %w", err)
	}

	b := &types.Block{
		BlockID: types.HashFromBytes(blockID),
		Header: types.BlockHeader{
			ParentID:          types.HashFromBytes(parentID),
			Height:            types.Height(height),
			Epoch:             types.Epoch(epoch),
			ShardGroup:        types.ShardGroup(shardGroup),
			ProposedBy:        types.HashFromBytes(proposedBy),
			StateMerkleRoot:   types.HashFromBytes(stateRoot),
			CommandMerkleRoot: types.HashFromBytes(cmdRoot),
			IsDummy:           isDummy,
			BaseLayer: types.BaseLayerAnchor{
				Hash:   types.HashFromBytes(baseLayerHash),
				Height: uint64(baseLayerHeight.Int64),
			},
		},
		Commands:       commands,
		Signature:      signature,
		TotalLeaderFee: totalLeaderFee,
		IsJustified:    isJustified,
		IsCommitted:    isCommitted,
	}
	if timestamp.Valid {
		b.Header.Timestamp = timestamp.Time
	}
	if len(qcID) > 0 {
		b.Justify = &types.QuorumCertificate{QCID: types.HashFromBytes(qcID)}
	}
	return b, nil
}
