package models

import (
	"time"
)

// Order statuses known to the platform. Status transitions outside this set
// are rejected at validation time.
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderOnHold     = "on-hold"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
	OrderRefunded   = "refunded"
	OrderFailed     = "failed"
)

// OrderStatuses lists every valid order status.
var OrderStatuses = []string{
	OrderPending,
	OrderProcessing,
	OrderOnHold,
	OrderCompleted,
	OrderCancelled,
	OrderRefunded,
	OrderFailed,
}

// ValidOrderStatus reports whether s is a known order status.
func ValidOrderStatus(s string) bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Order is the store-side view of an order row.
type Order struct {
	ID            int64     `json:"id"`
	Status        string    `json:"status"`
	TotalCents    int64     `json:"total_cents"`
	Currency      string    `json:"currency"`
	CustomerEmail string    `json:"customer_email"`
	Country       string    `json:"country"`
	Tags          []string  `json:"tags"`
	CreatedAt     time.Time `json:"created_at"`
}

// OrderNote is an annotation attached to an order.
type OrderNote struct {
	ID              int64     `json:"id"`
	OrderID         int64     `json:"order_id"`
	Author          string    `json:"author"`
	Note            string    `json:"note"`
	CustomerVisible bool      `json:"customer_visible"`
	CreatedAt       time.Time `json:"created_at"`
}

// Product is the store-side view of a product row.
type Product struct {
	ID         int64  `json:"id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	StockQty   int64  `json:"stock_qty"`
	PriceCents int64  `json:"price_cents"`
}

// Actor identifies the principal on whose behalf an operation runs. It
// namespaces drafts, progress, and rollback records, and is written into
// audit notes. Always passed explicitly, never read from ambient state.
type Actor struct {
	ID string
}

// Criteria is the structured order selection filter. Empty dimensions are
// ignored by the query.
type Criteria struct {
	Statuses      []string   `json:"statuses,omitempty"`
	CreatedFrom   *time.Time `json:"created_from,omitempty"`
	CreatedTo     *time.Time `json:"created_to,omitempty"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	MinTotalCents *int64     `json:"min_total_cents,omitempty"`
	MaxTotalCents *int64     `json:"max_total_cents,omitempty"`
	Country       string     `json:"country,omitempty"`
}

// Empty reports whether no filter dimension is set.
func (c Criteria) Empty() bool {
	return len(c.Statuses) == 0 &&
		c.CreatedFrom == nil && c.CreatedTo == nil &&
		c.CustomerEmail == "" &&
		c.MinTotalCents == nil && c.MaxTotalCents == nil &&
		c.Country == ""
}
