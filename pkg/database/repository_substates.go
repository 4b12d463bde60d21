// Copyright 2025 Certen Protocol
//
// Repository for substates, the append-only state_transitions log, and
// substate locks (pkg/substate's persisted backing store).

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/types"
)

// SubstateRepository persists substate versions and the state transition
// log that accompanies them.
type SubstateRepository struct {
	client *Client
}

// NewSubstateRepository constructs a SubstateRepository over client.
func NewSubstateRepository(client *Client) *SubstateRepository {
	return &SubstateRepository{client: client}
}

// InsertUp records a newly created substate version plus its matching
// append-only UP transition, atomically and gap-free.
func (r *SubstateRepository) InsertUp(ctx context.Context, s *types.Substate, nextSeq uint64) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("database: begin up tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Tx().ExecContext(ctx, `
		INSERT INTO substates (
			address, substate_id, version, value, state_hash,
			created_by_tx, created_block, created_height, created_at_epoch, created_by_shard
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.Address.Bytes(), s.SubstateID.Bytes(), uint64(s.Version), s.Value, s.StateHash.Bytes(),
		s.Created.TxID.Bytes(), s.Created.Block.Bytes(), uint64(s.Created.Height),
		uint64(s.Created.Epoch), uint32(s.Created.Shard))
	if err != nil {
		return fmt.Errorf("database: insert substate: %w", err)
	}

	if err := insertTransition(ctx, tx, s.Created.Shard, nextSeq, s.Created.Epoch,
		s.Address, s.SubstateID, s.Version, types.TransitionUp, s.StateHash); err != nil {
		return err
	}

	return tx.Commit()
}

// MarkDown records a substate's destruction plus its matching append-only
// DOWN transition, atomically and gap-free.
func (r *SubstateRepository) MarkDown(ctx context.Context, address types.Address, coords types.SubstateCoordinates, nextSeq uint64) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("database: begin down tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Tx().ExecContext(ctx, `
		UPDATE substates SET
			destroyed_by_tx = $2, destroyed_by_block = $3, destroyed_at_epoch = $4, destroyed_by_shard = $5
		WHERE address = $1 AND destroyed_by_tx IS NULL`,
		address.Bytes(), coords.TxID.Bytes(), coords.Block.Bytes(), uint64(coords.Epoch), uint32(coords.Shard))
	if err != nil {
		return fmt.Errorf("database: mark substate down: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSubstateNotFound
	}

	var substateID []byte
	var version uint64
	if err := tx.Tx().QueryRowContext(ctx, `SELECT substate_id, version FROM substates WHERE address = $1`, address.Bytes()).
		Scan(&substateID, &version); err != nil {
		return fmt.Errorf("database: load substate for down transition: %w", err)
	}

	if err := insertTransition(ctx, tx, coords.Shard, nextSeq, coords.Epoch,
		address, types.HashFromBytes(substateID), types.Version(version), types.TransitionDown, types.ZeroHash32); err != nil {
		return err
	}

	return tx.Commit()
}

func insertTransition(ctx context.Context, tx *Tx, shard types.ShardGroup, seq uint64, epoch types.Epoch,
	address, substateID types.Hash32, version types.Version, transition types.Transition, stateHash types.Hash32) error {

	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO state_transitions (shard, seq, epoch, substate_address, substate_id, version, transition, state_hash, state_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		uint32(shard), seq, uint64(epoch), address.Bytes(), substateID.Bytes(), uint64(version), string(transition), stateHash.Bytes(), seq)
	if err != nil {
		return fmt.Errorf("database: insert state transition: %w", err)
	}
	return nil
}

// NextSeq returns the next gap-free sequence number for shard.
func (r *SubstateRepository) NextSeq(ctx context.Context, shard types.ShardGroup) (uint64, error) {
	var maxSeq sql.NullInt64
	err := r.client.QueryRowContext(ctx, `SELECT MAX(seq) FROM state_transitions WHERE shard = $1`, uint32(shard)).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("database: next seq: %w", err)
	}
	if !maxSeq.Valid {
		return 0, nil
	}
	return uint64(maxSeq.Int64) + 1, nil
}

// GetLiveVersion returns the live (non-destroyed) substate for id, if any.
func (r *SubstateRepository) GetLiveVersion(ctx context.Context, id types.SubstateID) (*types.Substate, error) {
	query := `
		SELECT address, substate_id, version, value, state_hash,
			created_by_tx, created_block, created_height, created_at_epoch, created_by_shard
		FROM substates WHERE substate_id = $1 AND destroyed_by_tx IS NULL`
	row := r.client.QueryRowContext(ctx, query, id.Bytes())
	return scanSubstate(row)
}

// GetVersion returns a specific (substate_id, version) pair.
func (r *SubstateRepository) GetVersion(ctx context.Context, id types.SubstateID, version types.Version) (*types.Substate, error) {
	query := `
		SELECT address, substate_id, version, value, state_hash,
			created_by_tx, created_block, created_height, created_at_epoch, created_by_shard
		FROM substates WHERE substate_id = $1 AND version = $2`
	row := r.client.QueryRowContext(ctx, query, id.Bytes(), uint64(version))
	return scanSubstate(row)
}

func scanSubstate(row *sql.Row) (*types.Substate, error) {
	var (
		address, substateID []byte
		version             uint64
		value               []byte
		stateHash           []byte
		createdTx, createdBlock []byte
		createdHeight, createdEpoch uint64
		createdShard        uint32
	)
	if err := row.Scan(&address, &substateID, &version, &value, &stateHash,
		&createdTx, &createdBlock, &createdHeight, &createdEpoch, &createdShard); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubstateNotFound
		}
		return nil, fmt.Errorf("database: scan substate: %w", err)
	}
	return &types.Substate{
		Address:    types.HashFromBytes(address),
		SubstateID: types.HashFromBytes(substateID),
		Version:    types.Version(version),
		Value:      value,
		StateHash:  types.HashFromBytes(stateHash),
		Created: types.SubstateCoordinates{
			TxID:   types.HashFromBytes(createdTx),
			Block:  types.HashFromBytes(createdBlock),
			Height: types.Height(createdHeight),
			Epoch:  types.Epoch(createdEpoch),
			Shard:  types.ShardGroup(createdShard),
		},
	}, nil
}

// LockRepository persists substate locks taken at proposal time.
type LockRepository struct {
	client *Client
}

// NewLockRepository constructs a LockRepository over client.
func NewLockRepository(client *Client) *LockRepository {
	return &LockRepository{client: client}
}

// Acquire records a lock for (block, tx, substate, version). Callers must
// have already checked types.LocksCompatible against HeldOn.
func (r *LockRepository) Acquire(ctx context.Context, l *types.SubstateLock) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO substate_locks (block_id, tx_id, substate_id, version, lock, is_local_only)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (block_id, tx_id, substate_id, version) DO NOTHING`,
		l.BlockID.Bytes(), l.TxID.Bytes(), l.SubstateID.Bytes(), uint64(l.Version), string(l.Lock), l.IsLocalOnly)
	if err != nil {
		return fmt.Errorf("database: acquire lock: %w", err)
	}
	return nil
}

// HeldOn returns all locks currently held on (substate, version) across
// every in-flight block.
func (r *LockRepository) HeldOn(ctx context.Context, substateID types.SubstateID, version types.Version) ([]*types.SubstateLock, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT block_id, tx_id, substate_id, version, lock, is_local_only
		FROM substate_locks WHERE substate_id = $1 AND version = $2`, substateID.Bytes(), uint64(version))
	if err != nil {
		return nil, fmt.Errorf("database: held locks: %w", err)
	}
	defer rows.Close()

	var out []*types.SubstateLock
	for rows.Next() {
		var blockID, txID, sid []byte
		var v uint64
		var lockType string
		var localOnly bool
		if err := rows.Scan(&blockID, &txID, &sid, &v, &lockType, &localOnly); err != nil {
			return nil, fmt.Errorf("database: scan lock: %w", err)
		}
		out = append(out, &types.SubstateLock{
			BlockID:     types.HashFromBytes(blockID),
			TxID:        types.HashFromBytes(txID),
			SubstateID:  types.HashFromBytes(sid),
			Version:     types.Version(v),
			Lock:        types.LockType(lockType),
			IsLocalOnly: localOnly,
		})
	}
	return out, rows.Err()
}

// ReleaseForBlock drops every lock taken by block, on commit or prune.
func (r *LockRepository) ReleaseForBlock(ctx context.Context, blockID types.BlockID) error {
	_, err := r.client.ExecContext(ctx, `DELETE FROM substate_locks WHERE block_id = $1`, blockID.Bytes())
	if err != nil {
		return fmt.Errorf("database: release locks: %w", err)
	}
	return nil
}
