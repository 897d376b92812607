package insights

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"insights-backend/internal/shared/storage/db"
)

// PGStore implements Store using Postgres.
type PGStore struct {
	DB *sql.DB
}

func (s *PGStore) List(ctx context.Context, userID string, category Category) ([]Record, error) {
	return pgQueries{q: s.DB}.List(ctx, userID, category)
}

func (s *PGStore) Get(ctx context.Context, userID string, category Category, normalizedName string) (Record, error) {
	return pgQueries{q: s.DB}.Get(ctx, userID, category, normalizedName)
}

func (s *PGStore) Upsert(ctx context.Context, rec Record) error {
	return pgQueries{q: s.DB}.Upsert(ctx, rec)
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	return pgQueries{q: s.DB}.Delete(ctx, id)
}

// WithinMergeTx runs fn in one transaction holding an advisory lock on (user, category).
func (s *PGStore) WithinMergeTx(ctx context.Context, userID string, category Category, fn func(Store) error) error {
	return db.WithTx(ctx, s.DB, func(tx db.Querier) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey(userID, category)); err != nil {
			return err
		}
		return fn(pgQueries{q: tx})
	})
}

type pgQueries struct {
	q db.Querier
}

const selectColumns = `id, user_id, category, name, score, created_at, updated_at`

func (p pgQueries) List(ctx context.Context, userID string, category Category) ([]Record, error) {
	query := `SELECT ` + selectColumns + `
FROM user_insights
WHERE user_id = $1 AND category = $2
ORDER BY created_at, id`
	rows, err := p.q.QueryContext(ctx, query, userID, string(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p pgQueries) Get(ctx context.Context, userID string, category Category, normalizedName string) (Record, error) {
	query := `SELECT ` + selectColumns + `
FROM user_insights
WHERE user_id = $1 AND category = $2 AND lower(btrim(name)) = $3
ORDER BY score DESC, created_at, id
LIMIT 1`
	r, err := scanRecord(p.q.QueryRowContext(ctx, query, userID, string(category), normalizedName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return r, nil
}

func (p pgQueries) Upsert(ctx context.Context, rec Record) error {
	const query = `
INSERT INTO user_insights (id, user_id, category, name, score, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = rec.UpdatedAt
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err := p.q.ExecContext(ctx, query, rec.ID, rec.UserID, string(rec.Category), rec.Name, rec.Score, createdAt, updatedAt)
	return err
}

func (p pgQueries) Delete(ctx context.Context, id string) error {
	_, err := p.q.ExecContext(ctx, `DELETE FROM user_insights WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var category string
	if err := row.Scan(&r.ID, &r.UserID, &category, &r.Name, &r.Score, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Record{}, err
	}
	r.Category = Category(category)
	return r, nil
}

var _ TxStore = (*PGStore)(nil)
