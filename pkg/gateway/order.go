package gateway

import (
	"context"
	"fmt"
	"time"

	"streamcart/pkg/models"
)

// OrderRequest creates an order. IdempotencyKey is the originating comment
// id; the gateway must return the existing order when it sees the same key
// again, so retried calls cannot create duplicates.
type OrderRequest struct {
	ProductID      string `json:"product_id"`
	Buyer          string `json:"buyer"`
	Streamer       string `json:"streamer"`
	Source         string `json:"source"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

// OrderResponse is the created (or replayed) order.
type OrderResponse struct {
	OrderID    string  `json:"order_id"`
	Status     string  `json:"status"`
	TotalPrice float64 `json:"total_price"`
}

// OrderClient calls the order service.
type OrderClient struct {
	client
}

// NewOrderClient returns a client for the order service at base.
func NewOrderClient(base string, timeout time.Duration) *OrderClient {
	return &OrderClient{newClient("order", base, timeout)}
}

// Create places an order. The response must carry an order id and a known
// status before it is persisted.
func (c *OrderClient) Create(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	var out OrderResponse
	if err := c.postJSON(ctx, "/order/create", req, &out); err != nil {
		return out, err
	}
	if out.OrderID == "" {
		return out, c.invalidResponse(fmt.Errorf("missing order_id"))
	}
	switch out.Status {
	case models.OrderPending, models.OrderPaid, models.OrderFailed:
	default:
		return out, c.invalidResponse(fmt.Errorf("unknown order status %q", out.Status))
	}
	if out.TotalPrice < 0 {
		return out, c.invalidResponse(fmt.Errorf("negative total_price %v", out.TotalPrice))
	}
	return out, nil
}
