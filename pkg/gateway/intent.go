package gateway

import (
	"context"
	"fmt"
	"time"

	"streamcart/pkg/models"
)

// IntentRequest is the classification request body.
type IntentRequest struct {
	Text string `json:"text"`
}

// IntentResponse is the classifier's verdict. Intent is one of buy,
// question, feedback, complaint, none; Score is in [0,1].
type IntentResponse struct {
	Intent string  `json:"intent"`
	Score  float64 `json:"score"`
}

// IntentClient calls the intent classification service.
type IntentClient struct {
	client
}

// NewIntentClient returns a client for the intent service at base.
func NewIntentClient(base string, timeout time.Duration) *IntentClient {
	return &IntentClient{newClient("intent", base, timeout)}
}

// Predict classifies a comment's text. The response is validated against
// the contract before it reaches the state machine.
func (c *IntentClient) Predict(ctx context.Context, text string) (IntentResponse, error) {
	var out IntentResponse
	if err := c.postJSON(ctx, "/predict_intent", IntentRequest{Text: text}, &out); err != nil {
		return out, err
	}
	switch out.Intent {
	case models.IntentBuy, models.IntentQuestion, models.IntentFeedback, models.IntentComplaint, models.IntentNone:
	default:
		return out, c.invalidResponse(fmt.Errorf("unknown intent label %q", out.Intent))
	}
	if out.Score < 0 || out.Score > 1 {
		return out, c.invalidResponse(fmt.Errorf("score %v outside [0,1]", out.Score))
	}
	return out, nil
}
