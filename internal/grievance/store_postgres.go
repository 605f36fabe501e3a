package grievance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	txcontext "mobility-bap/pkg/platform/tx"
)

// PostgresStore keeps each grievance as a JSONB document.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, g *Grievance) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal grievance: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO grievances (issue_id, transaction_id, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, g.IssueID, g.TransactionID, string(g.Status), data, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert grievance: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, issueID string) (*Grievance, error) {
	return scanGrievance(s.db.QueryRowContext(ctx, `SELECT data FROM grievances WHERE issue_id = $1`, issueID))
}

func (s *PostgresStore) Update(ctx context.Context, issueID string, fn func(*Grievance) error) (*Grievance, error) {
	var result *Grievance
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		g, err := scanGrievance(tx.QueryRowContext(ctx, `SELECT data FROM grievances WHERE issue_id = $1 FOR UPDATE`, issueID))
		if err != nil {
			return err
		}
		if err := fn(g); err != nil {
			return err
		}
		data, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("marshal grievance: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE grievances SET status = $2, data = $3, updated_at = $4 WHERE issue_id = $1
		`, g.IssueID, string(g.Status), data, g.UpdatedAt); err != nil {
			return fmt.Errorf("update grievance: %w", err)
		}
		result = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Grievance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM grievances WHERE transaction_id = $1 ORDER BY created_at ASC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query grievances: %w", err)
	}
	defer rows.Close()

	var out []*Grievance
	for rows.Next() {
		g, err := scanGrievance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grievances: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGrievance(row scanner) (*Grievance, error) {
	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find grievance: %w", err)
	}
	var g Grievance
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode grievance: %w", err)
	}
	return &g, nil
}
