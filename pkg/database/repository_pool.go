// Copyright 2025 Certen Protocol
//
// Repository for the transaction pool (pkg/pool's persisted backing
// store).

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/types"
)

// PoolRepository persists transaction pool entries.
type PoolRepository struct {
	client *Client
}

// NewPoolRepository constructs a PoolRepository over client.
func NewPoolRepository(client *Client) *PoolRepository {
	return &PoolRepository{client: client}
}

// Upsert inserts or replaces a pool entry in full (the pool's in-memory
// state machine is the source of truth; this call persists a snapshot
// after every stage transition).
func (r *PoolRepository) Upsert(ctx context.Context, e *types.PoolEntry) error {
	evidenceJSON, err := json.Marshal(e.Evidence)
	if err != nil {
		return fmt.Errorf("database: marshal evidence: %w", err)
	}

	var localDecision, remoteDecision sql.NullString
	if e.LocalDecision != nil {
		localDecision = sql.NullString{String: string(*e.LocalDecision), Valid: true}
	}
	if e.RemoteDecision != nil {
		remoteDecision = sql.NullString{String: string(*e.RemoteDecision), Valid: true}
	}

	var pendingStage, confirmStage sql.NullString
	if e.PendingStage != nil {
		pendingStage = sql.NullString{String: string(*e.PendingStage), Valid: true}
	}
	if e.ConfirmStage != nil {
		confirmStage = sql.NullString{String: string(*e.ConfirmStage), Valid: true}
	}

	var leaderFee sql.NullInt64
	if e.LeaderFee != nil {
		leaderFee = sql.NullInt64{Int64: int64(*e.LeaderFee), Valid: true}
	}

	var dependsOn []byte
	if e.DependsOn != nil {
		dependsOn = e.DependsOn.Bytes()
	}

	query := `
		INSERT INTO transaction_pool (
			tx_id, original_decision, local_decision, remote_decision, evidence,
			transaction_fee, leader_fee, stage, pending_stage, is_ready, confirm_stage,
			is_global, locality, depends_on
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (tx_id) DO UPDATE SET
			local_decision = EXCLUDED.local_decision,
			remote_decision = EXCLUDED.remote_decision,
			evidence = EXCLUDED.evidence,
			leader_fee = EXCLUDED.leader_fee,
			stage = EXCLUDED.stage,
			pending_stage = EXCLUDED.pending_stage,
			is_ready = EXCLUDED.is_ready,
			confirm_stage = EXCLUDED.confirm_stage,
			is_global = EXCLUDED.is_global,
			locality = EXCLUDED.locality,
			depends_on = EXCLUDED.depends_on`

	_, err = r.client.ExecContext(ctx, query,
		e.TxID.Bytes(), string(e.OriginalDecision), localDecision, remoteDecision, evidenceJSON,
		e.TransactionFee, leaderFee, string(e.Stage), pendingStage, e.IsReady, confirmStage,
		e.IsGlobal, string(e.Locality), dependsOn)
	if err != nil {
		return fmt.Errorf("database: upsert pool entry: %w", err)
	}
	return nil
}

// Get fetches a pool entry by transaction id.
func (r *PoolRepository) Get(ctx context.Context, txID types.TxID) (*types.PoolEntry, error) {
	query := `
		SELECT tx_id, original_decision, local_decision, remote_decision, evidence,
			transaction_fee, leader_fee, stage, pending_stage, is_ready, confirm_stage,
			is_global, locality, depends_on
		FROM transaction_pool WHERE tx_id = $1`
	row := r.client.QueryRowContext(ctx, query, txID.Bytes())
	e, err := scanPoolEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return e, err
}

// ReadySet returns every entry currently marked ready for block inclusion.
func (r *PoolRepository) ReadySet(ctx context.Context, limit int) ([]*types.PoolEntry, error) {
	query := `
		SELECT tx_id, original_decision, local_decision, remote_decision, evidence,
			transaction_fee, leader_fee, stage, pending_stage, is_ready, confirm_stage,
			is_global, locality, depends_on
		FROM transaction_pool WHERE is_ready = true ORDER BY tx_id ASC LIMIT $1`
	rows, err := r.client.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("database: ready set: %w", err)
	}
	defer rows.Close()

	var out []*types.PoolEntry
	for rows.Next() {
		e, err := scanPoolEntryRows(rows)
		if err != nil {
			return nil, fmt.Errorf("database: scan ready entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Evict removes a pool entry once its final decision has committed.
func (r *PoolRepository) Evict(ctx context.Context, txID types.TxID) error {
	_, err := r.client.ExecContext(ctx, `DELETE FROM transaction_pool WHERE tx_id = $1`, txID.Bytes())
	if err != nil {
		return fmt.Errorf("database: evict pool entry: %w", err)
	}
	return nil
}

func scanPoolEntry(row *sql.Row) (*types.PoolEntry, error) { return scanPoolEntryGeneric(row) }

func scanPoolEntryRows(rows *sql.Rows) (*types.PoolEntry, error) { return scanPoolEntryGeneric(rows) }

func scanPoolEntryGeneric(row rowScanner) (*types.PoolEntry, error) {
	var (
		txID                            []byte
		originalDecision                 string
		localDecision, remoteDecision    sql.NullString
		evidenceJSON                     []byte
		transactionFee                   uint64
		leaderFee                        sql.NullInt64
		stage                            string
		pendingStage, confirmStage       sql.NullString
		isReady, isGlobal                bool
		locality                         string
		dependsOn                        []byte
	)

	if err := row.Scan(&txID, &originalDecision, &localDecision, &remoteDecision, &evidenceJSON,
		&transactionFee, &leaderFee, &stage, &pendingStage, &isReady, &confirmStage,
		&isGlobal, &locality, &dependsOn); err != nil {
		return nil, err
	}

	var evidence types.Evidence
	if err := json.Unmarshal(evidenceJSON, &evidence); err != nil {
		return nil, fmt.Errorf("database: unmarshal evidence: %w", err)
	}

	e := &types.PoolEntry{
		TxID:             types.HashFromBytes(txID),
		OriginalDecision: types.Decision(originalDecision),
		Evidence:         evidence,
		Stage:            types.Stage(stage),
		IsReady:          isReady,
		IsGlobal:         isGlobal,
		Locality:         types.Locality(locality),
		TransactionFee:   transactionFee,
	}
	if localDecision.Valid {
		d := types.Decision(localDecision.String)
		e.LocalDecision = &d
	}
	if remoteDecision.Valid {
		d := types.Decision(remoteDecision.String)
		e.RemoteDecision = &d
	}
	if pendingStage.Valid {
		s := types.Stage(pendingStage.String)
		e.PendingStage = &s
	}
	if confirmStage.Valid {
		s := types.Stage(confirmStage.String)
		e.ConfirmStage = &s
	}
	if leaderFee.Valid {
		f := uint64(leaderFee.Int64)
		e.LeaderFee = &f
	}
	if len(dependsOn) > 0 {
		d := types.HashFromBytes(dependsOn)
		e.DependsOn = &d
	}
	return e, nil
}
