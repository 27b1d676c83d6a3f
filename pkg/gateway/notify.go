package gateway

import (
	"context"
	"fmt"
	"time"
)

// NotifyRequest asks the notification service to deliver an order
// confirmation over a channel (sms, whatsapp).
type NotifyRequest struct {
	OrderID   string `json:"order_id"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// NotifyResponse reports the delivery status.
type NotifyResponse struct {
	Status string `json:"status"`
}

// NotifyClient calls the notification service.
type NotifyClient struct {
	client
}

// NewNotifyClient returns a client for the notification service at base.
func NewNotifyClient(base string, timeout time.Duration) *NotifyClient {
	return &NotifyClient{newClient("notification", base, timeout)}
}

// Send delivers an order confirmation. Failures here never roll back the
// order; the orchestrator records the attempt and moves on.
func (c *NotifyClient) Send(ctx context.Context, req NotifyRequest) (NotifyResponse, error) {
	var out NotifyResponse
	if err := c.postJSON(ctx, "/notify", req, &out); err != nil {
		return out, err
	}
	if out.Status == "" {
		return out, c.invalidResponse(fmt.Errorf("missing status"))
	}
	return out, nil
}
