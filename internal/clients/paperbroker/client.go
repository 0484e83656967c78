// Package paperbroker is a simulated execution venue. Limit orders fill
// immediately at the limit price, duplicate client order ids are rejected,
// and positions are tracked so reconciliation has an authoritative book to
// compare against. Venue-native statuses arrive in assorted casings and are
// normalized to the lowercase domain tags.
package paperbroker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/domain"
)

// Client is the in-process paper venue. Safe for concurrent use.
type Client struct {
	log zerolog.Logger

	mu        sync.Mutex
	seen      map[string]domain.OrderResult // by client order id
	positions map[string]*domain.BrokerPosition
}

// New creates a paper broker with an empty book.
func New(log zerolog.Logger) *Client {
	return &Client{
		log:       log.With().Str("service", "paperbroker").Logger(),
		seen:      map[string]domain.OrderResult{},
		positions: map[string]*domain.BrokerPosition{},
	}
}

// SubmitOrder fills a limit order at its limit price. A request re-using a
// known ClientOrderID fails with ErrDuplicateOrder; the original result is
// never silently replayed because the caller must know it double-submitted.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.ClientOrderID == "" {
		return nil, fmt.Errorf("order for %s has no client order id", req.Ticker)
	}
	if req.Quantity <= 0 || req.LimitPrice <= 0 {
		return c.reject(req, "quantity and limit price must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[req.ClientOrderID]; dup {
		c.log.Warn().
			Str("ticker", req.Ticker).
			Str("client_order_id", req.ClientOrderID).
			Msg("Duplicate order rejected")
		return nil, fmt.Errorf("order %s for %s: %w", req.ClientOrderID, req.Ticker, domain.ErrDuplicateOrder)
	}

	if req.Side == domain.SideSell {
		pos := c.positions[req.Ticker]
		if pos == nil || pos.Quantity < req.Quantity {
			res := domain.OrderResult{
				ClientOrderID: req.ClientOrderID,
				Status:        NormalizeStatus("REJECTED"),
				Reason:        "insufficient position",
				SubmittedAt:   time.Now().UTC(),
			}
			c.seen[req.ClientOrderID] = res
			return &res, nil
		}
	}

	res := domain.OrderResult{
		ClientOrderID: req.ClientOrderID,
		Status:        NormalizeStatus("Filled"),
		FillPrice:     req.LimitPrice,
		FillQuantity:  req.Quantity,
		SubmittedAt:   time.Now().UTC(),
	}
	c.seen[req.ClientOrderID] = res
	c.apply(req)

	c.log.Info().
		Str("ticker", req.Ticker).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Float64("fill_price", res.FillPrice).
		Msg("Paper order filled")
	return &res, nil
}

// Positions returns the venue's authoritative holdings.
func (c *Client) Positions(ctx context.Context) ([]domain.BrokerPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.BrokerPosition, 0, len(c.positions))
	for _, pos := range c.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// apply mutates the book for a filled order. Caller holds the lock.
func (c *Client) apply(req domain.OrderRequest) {
	pos := c.positions[req.Ticker]
	if pos == nil {
		pos = &domain.BrokerPosition{Ticker: req.Ticker}
		c.positions[req.Ticker] = pos
	}

	switch req.Side {
	case domain.SideBuy:
		total := pos.AvgPrice*pos.Quantity + req.LimitPrice*req.Quantity
		pos.Quantity += req.Quantity
		pos.AvgPrice = total / pos.Quantity
	case domain.SideSell:
		pos.Quantity -= req.Quantity
		if pos.Quantity <= 0 {
			delete(c.positions, req.Ticker)
		}
	}
}

func (c *Client) reject(req domain.OrderRequest, reason string) (*domain.OrderResult, error) {
	return &domain.OrderResult{
		ClientOrderID: req.ClientOrderID,
		Status:        domain.OrderRejected,
		Reason:        reason,
		SubmittedAt:   time.Now().UTC(),
	}, nil
}

// NormalizeStatus folds a venue-native status tag, whatever its casing or
// separator style, onto the domain's lowercase tags. Unknown tags map to
// rejected so nothing unexpected ever counts as a fill.
func NormalizeStatus(native string) domain.OrderStatus {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(native), "-", "_")) {
	case "pending", "new", "accepted", "queued":
		return domain.OrderPending
	case "filled", "executed", "done":
		return domain.OrderFilled
	case "partially_filled", "partial", "partial_fill":
		return domain.OrderPartiallyFilled
	case "cancelled", "canceled":
		return domain.OrderCancelled
	default:
		return domain.OrderRejected
	}
}
