package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"mobility-bap/internal/transaction/models"
	"mobility-bap/pkg/platform/sentinel"
	txcontext "mobility-bap/pkg/platform/tx"
)

// PostgresStore keeps each transaction as a JSONB document with its phase
// columns mirrored for indexing.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) conn(ctx context.Context) queryer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, txn *models.Transaction) error {
	data, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO transactions (id, phase, fulfillment, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, txn.ID, string(txn.Phase), string(txn.Fulfillment), data, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Transaction, error) {
	return s.load(ctx, s.conn(ctx), id, false)
}

// Update locks the row with SELECT ... FOR UPDATE while fn runs, joining a
// transaction already carried by ctx. Nothing is written when fn fails.
func (s *PostgresStore) Update(ctx context.Context, id string, fn func(*models.Transaction) error) (*models.Transaction, error) {
	var result *models.Transaction
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		txn, err := s.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(txn); err != nil {
			return err
		}
		data, err := json.Marshal(txn)
		if err != nil {
			return fmt.Errorf("marshal transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET phase = $2, fulfillment = $3, data = $4, updated_at = $5
			WHERE id = $1
		`, txn.ID, string(txn.Phase), string(txn.Fulfillment), data, txn.UpdatedAt); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Transaction, error) {
	phases := models.InFlightPhases()
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM transactions
		WHERE phase = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, pq.Array(names), before, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		var txn models.Transaction
		if err := json.Unmarshal(data, &txn); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		out = append(out, &txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) load(ctx context.Context, q queryer, id string, forUpdate bool) (*models.Transaction, error) {
	query := `SELECT data FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var data []byte
	err := q.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	var txn models.Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &txn, nil
}
