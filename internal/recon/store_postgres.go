package recon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, rec *SettlementRecord) error {
	var details any
	if len(rec.Details) > 0 {
		details = []byte(rec.Details)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlements (order_id, transaction_id, settlement_id, amount, currency, status, settlement_type, urn, settled_at, details, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id) DO UPDATE SET
			transaction_id = EXCLUDED.transaction_id,
			settlement_id = EXCLUDED.settlement_id,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			settlement_type = EXCLUDED.settlement_type,
			urn = EXCLUDED.urn,
			settled_at = EXCLUDED.settled_at,
			details = EXCLUDED.details,
			updated_at = EXCLUDED.updated_at
	`, rec.OrderID, rec.TransactionID, rec.SettlementID, rec.Amount, rec.Currency, rec.Status,
		rec.SettlementType, rec.URN, rec.Timestamp, details, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert settlement %s: %w", rec.OrderID, err)
	}
	return nil
}

func (s *PostgresStore) FindByOrderID(ctx context.Context, orderID string) (*SettlementRecord, error) {
	var (
		rec     SettlementRecord
		settled sql.NullTime
		details []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT order_id, transaction_id, settlement_id, amount, currency, status, settlement_type, urn, settled_at, details, updated_at
		FROM settlements WHERE order_id = $1
	`, orderID).Scan(&rec.OrderID, &rec.TransactionID, &rec.SettlementID, &rec.Amount, &rec.Currency, &rec.Status,
		&rec.SettlementType, &rec.URN, &settled, &details, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find settlement %s: %w", orderID, err)
	}
	if settled.Valid {
		t := settled.Time.UTC()
		rec.Timestamp = &t
	}
	rec.Details = details
	return &rec, nil
}
