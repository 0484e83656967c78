package domain

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is a broker order state, normalized to lowercase tags
// regardless of the venue's native casing or format.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderRejected        OrderStatus = "rejected"
	OrderCancelled       OrderStatus = "cancelled"
)

// OrderRequest is the order the engine submits to the execution venue.
// ClientOrderID is deterministic (derived from ticker, side, date and the
// order intent) so duplicate submissions are detectable.
type OrderRequest struct {
	Ticker        string    `json:"ticker"`
	Side          OrderSide `json:"side"`
	Quantity      float64   `json:"quantity"`
	OrderType     string    `json:"order_type"` // always LIMIT
	LimitPrice    float64   `json:"limit_price"`
	ClientOrderID string    `json:"client_order_id"`
}

// OrderResult is the venue's response, already normalized.
type OrderResult struct {
	ClientOrderID string      `json:"client_order_id"`
	Status        OrderStatus `json:"status"`
	FillPrice     float64     `json:"fill_price,omitempty"`
	FillQuantity  float64     `json:"fill_quantity,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	SubmittedAt   time.Time   `json:"submitted_at"`
}

// BrokerPosition is one holding as reported by the venue, used only for
// read-only reconciliation against local state.
type BrokerPosition struct {
	Ticker   string  `json:"ticker"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}
