package beckn

import "encoding/json"

// ReconPayment is the settlement amount reported for an order.
type ReconPayment struct {
	Status string        `json:"status,omitempty"`
	Type   string        `json:"type,omitempty"`
	Params PaymentParams `json:"params"`
}

// ReconOrder is one settlement line of a reconciliation batch.
type ReconOrder struct {
	ID                    string        `json:"id"`
	InvoiceNo             string        `json:"invoice_no,omitempty"`
	CollectorAppID        string        `json:"collector_app_id,omitempty"`
	ReceiverAppID         string        `json:"receiver_app_id,omitempty"`
	TransactionID         string        `json:"transaction_id,omitempty"`
	OrderReconStatus      string        `json:"order_recon_status,omitempty"`
	SettlementID          string        `json:"settlement_id,omitempty"`
	SettlementType        string        `json:"settlement_type,omitempty"`
	SettlementReferenceNo string        `json:"settlement_reference_no,omitempty"`
	SettlementTimestamp   string        `json:"settlement_timestamp,omitempty"`
	Payment               *ReconPayment `json:"payment,omitempty"`
}

// Orderbook groups reconciliation lines.
type Orderbook struct {
	Orders []json.RawMessage `json:"orders"`
}

// ReconMessage is the body of on_receiver_recon. Orders stay raw so one
// malformed line cannot abort the batch.
type ReconMessage struct {
	Orderbook Orderbook `json:"orderbook"`
}
