package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"mobility-bap/internal/audit"
	txcontext "mobility-bap/pkg/platform/tx"
)

// Store persists entries in the append-only audit_log table.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts entry. Duplicate ids are ignored so a replayed write is harmless.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		return fmt.Errorf("marshal audit headers: %w", err)
	}
	payload := []byte(entry.Payload)
	if len(payload) == 0 || !json.Valid(payload) {
		payload, err = json.Marshal(string(entry.Payload))
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log (
			id, transaction_id, message_id, action, direction,
			source, destination, payload, headers, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.TransactionID,
		entry.MessageID,
		entry.Action,
		string(entry.Direction),
		entry.Source,
		entry.Destination,
		payload,
		headers,
		entry.Status,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByTransaction returns entries oldest first.
func (s *Store) ListByTransaction(ctx context.Context, transactionID string) ([]audit.Entry, error) {
	query := `
		SELECT id, transaction_id, message_id, action, direction,
			   source, destination, payload, headers, status, created_at
		FROM audit_log
		WHERE transaction_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e         audit.Entry
			direction string
			payload   []byte
			headers   []byte
		)
		if err := rows.Scan(
			&e.ID,
			&e.TransactionID,
			&e.MessageID,
			&e.Action,
			&direction,
			&e.Source,
			&e.Destination,
			&payload,
			&headers,
			&e.Status,
			&e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Direction = audit.Direction(direction)
		e.Payload = json.RawMessage(payload)
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &e.Headers); err != nil {
				return nil, fmt.Errorf("decode audit headers: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}
