package operation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openidx/hrsync/internal/common/database"
	apperrors "github.com/openidx/hrsync/internal/common/errors"
)

// Schema creates the pending operation table. Uniqueness of (user_id,
// operation_type) is enforced by the primary key.
const Schema = `
CREATE TABLE IF NOT EXISTS pending_operations (
    user_id        VARCHAR(255) NOT NULL,
    operation_type CHAR(1)      NOT NULL CHECK (operation_type IN ('C', 'D')),
    first_name     VARCHAR(255) NOT NULL DEFAULT '',
    last_name      VARCHAR(255) NOT NULL DEFAULT '',
    email          VARCHAR(254) NOT NULL DEFAULT '',
    scheduled_date DATE         NOT NULL,
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, operation_type)
);
CREATE INDEX IF NOT EXISTS idx_pending_operations_due
    ON pending_operations (operation_type, scheduled_date);
`

const selectColumns = `user_id, operation_type, first_name, last_name, email, scheduled_date`

// PostgresRepository persists pending operations in PostgreSQL
type PostgresRepository struct {
	db *database.PostgresDB
}

// NewPostgresRepository creates a repository over an open pool
func NewPostgresRepository(db *database.PostgresDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the table and index when missing
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, Schema); err != nil {
		return apperrors.StoreError("migrate", err)
	}
	return nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, op PendingOperation) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO pending_operations (user_id, operation_type, first_name, last_name, email, scheduled_date)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, operation_type) DO UPDATE SET
		     first_name = EXCLUDED.first_name,
		     last_name = EXCLUDED.last_name,
		     email = EXCLUDED.email,
		     scheduled_date = EXCLUDED.scheduled_date,
		     updated_at = NOW()`,
		op.UserID, string(op.Type), op.FirstName, op.LastName, op.Email, Day(op.ScheduledDate))
	if err != nil {
		return apperrors.StoreError("upsert", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, key Key) (*PendingOperation, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM pending_operations WHERE user_id = $1 AND operation_type = $2`,
		key.UserID, string(key.Type))
	op, err := scanOperation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StoreError("get", err)
	}
	return op, nil
}

func (r *PostgresRepository) Update(ctx context.Context, key Key, mutate func(*PendingOperation)) (bool, error) {
	found := false
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+selectColumns+` FROM pending_operations
			 WHERE user_id = $1 AND operation_type = $2 FOR UPDATE`,
			key.UserID, string(key.Type))
		op, err := scanOperation(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		mutate(op)

		_, err = tx.Exec(ctx,
			`UPDATE pending_operations
			 SET first_name = $3, last_name = $4, email = $5, scheduled_date = $6, updated_at = NOW()
			 WHERE user_id = $1 AND operation_type = $2`,
			key.UserID, string(key.Type), op.FirstName, op.LastName, op.Email, Day(op.ScheduledDate))
		return err
	})
	if err != nil {
		return false, apperrors.StoreError("update", err)
	}
	return found, nil
}

func (r *PostgresRepository) Due(ctx context.Context, t Type, cutoff time.Time) ([]PendingOperation, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+selectColumns+` FROM pending_operations
		 WHERE operation_type = $1 AND scheduled_date <= $2
		 ORDER BY scheduled_date, user_id`,
		string(t), Day(cutoff))
	if err != nil {
		return nil, apperrors.StoreError("due", err)
	}
	defer rows.Close()

	var ops []PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, apperrors.StoreError("due", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StoreError("due", err)
	}
	return ops, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, keys ...Key) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	userIDs := make([]string, len(keys))
	types := make([]string, len(keys))
	for i, k := range keys {
		userIDs[i] = k.UserID
		types[i] = string(k.Type)
	}

	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM pending_operations
		 WHERE (user_id, operation_type) IN (
		     SELECT u, t FROM unnest($1::text[], $2::text[]) AS k(u, t)
		 )`,
		userIDs, types)
	if err != nil {
		return 0, apperrors.StoreError("delete", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanOperation(row pgx.Row) (*PendingOperation, error) {
	var op PendingOperation
	var opType string
	var scheduled time.Time
	if err := row.Scan(&op.UserID, &opType, &op.FirstName, &op.LastName, &op.Email, &scheduled); err != nil {
		return nil, err
	}
	op.Type = Type(opType)
	op.ScheduledDate = Day(scheduled)
	return &op, nil
}
