// Package recon books the settlement lines a counterparty reports through
// on_receiver_recon. It records, it does not move money.
package recon

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mobility-bap/internal/beckn"
	dErrors "mobility-bap/pkg/domain-errors"
	"mobility-bap/pkg/platform/sentinel"
)

var (
	ErrNotFound = sentinel.ErrNotFound

	errMissingOrderID = errors.New("order id is required")
)

// SettlementRecord is the latest known settlement state of one order.
type SettlementRecord struct {
	OrderID        string          `json:"orderId"`
	TransactionID  string          `json:"transactionId,omitempty"`
	SettlementID   string          `json:"settlementId,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	Status         string          `json:"status,omitempty"`
	SettlementType string          `json:"settlementType,omitempty"`
	URN            string          `json:"urn,omitempty"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Summary reports how a batch fared.
type Summary struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Failures  []LineFailure `json:"failures,omitempty"`
}

// LineFailure identifies a rejected line by position, and by order id when
// one could be read.
type LineFailure struct {
	Index   int    `json:"index"`
	OrderID string `json:"orderId,omitempty"`
	Reason  string `json:"reason"`
}

// recordFromLine converts one raw orderbook line. The raw bytes are kept as
// the record's details.
func recordFromLine(raw json.RawMessage, now time.Time) (*SettlementRecord, error) {
	var line beckn.ReconOrder
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed settlement line")
	}
	orderID := strings.TrimSpace(line.ID)
	if orderID == "" {
		return nil, dErrors.Wrap(errMissingOrderID, dErrors.CodeBadRequest, "settlement line has no order id")
	}

	rec := &SettlementRecord{
		OrderID:        orderID,
		TransactionID:  line.TransactionID,
		SettlementID:   line.SettlementID,
		Status:         line.OrderReconStatus,
		SettlementType: line.SettlementType,
		URN:            line.SettlementReferenceNo,
		Details:        raw,
		UpdatedAt:      now,
	}
	if line.Payment != nil {
		if rec.Status == "" {
			rec.Status = line.Payment.Status
		}
		rec.Currency = line.Payment.Params.Currency
		if amount := strings.TrimSpace(line.Payment.Params.Amount); amount != "" {
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "settlement amount is not a number")
			}
			if d.IsNegative() {
				return nil, dErrors.New(dErrors.CodeBadRequest, "settlement amount is negative")
			}
			rec.Amount = d
		}
	}
	if line.SettlementTimestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, line.SettlementTimestamp)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "settlement timestamp is not RFC 3339")
		}
		ts = ts.UTC()
		rec.Timestamp = &ts
	}
	return rec, nil
}
