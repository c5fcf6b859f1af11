package models

import (
	"encoding/json"
	"time"
)

// Draft types. Each prepare endpoint creates a draft of exactly one type and
// the matching confirm endpoint claims that type; a claim against the wrong
// type reads as not found.
const (
	DraftBulkAction   = "bulk_action"
	DraftRefund       = "refund"
	DraftStatusUpdate = "status_update"
	DraftStockUpdate  = "stock_update"
)

// Draft is a staged, unconfirmed mutation. It lives in the TTL store until it
// is claimed by a confirmation, cancelled, or expires.
type Draft struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Preview   string          `json:"preview"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// BulkDraftPayload is the payload of a bulk_action draft. StatusSnapshot
// records each target order's status at draft time so the confirmation can
// detect orders that changed in between.
type BulkDraftPayload struct {
	Action         string           `json:"action"`
	OrderIDs       []int64          `json:"order_ids"`
	Params         json.RawMessage  `json:"params,omitempty"`
	StatusSnapshot map[int64]string `json:"status_snapshot"`
}

// RefundDraftPayload is the payload of a refund draft.
type RefundDraftPayload struct {
	OrderID     int64  `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason,omitempty"`
	PrevStatus  string `json:"prev_status"`
}

// StatusDraftPayload is the payload of a single-order status_update draft.
type StatusDraftPayload struct {
	OrderID    int64  `json:"order_id"`
	NewStatus  string `json:"new_status"`
	PrevStatus string `json:"prev_status"`
}

// StockDraftPayload is the payload of a stock_update draft. Delta-style
// adjustments are resolved to an absolute NewQty at prepare time.
type StockDraftPayload struct {
	ProductID int64 `json:"product_id"`
	NewQty    int64 `json:"new_qty"`
	PrevQty   int64 `json:"prev_qty"`
}
