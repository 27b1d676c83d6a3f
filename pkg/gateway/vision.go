package gateway

import (
	"context"
	"fmt"
	"time"
)

// VisionRequest asks the vision service to match a product against the
// stream frames nearest the given timestamp. FrameURLs is an optional
// passthrough for pre-resolved frames.
type VisionRequest struct {
	Streamer  string   `json:"streamer"`
	Timestamp string   `json:"timestamp"`
	FrameURLs []string `json:"frame_urls,omitempty"`
}

// VisionResponse carries the matched product and confidence in [0,1].
type VisionResponse struct {
	ProductID string  `json:"productId"`
	Score     float64 `json:"score"`
}

// VisionClient calls the product-matching vision service.
type VisionClient struct {
	client
}

// NewVisionClient returns a client for the vision service at base.
func NewVisionClient(base string, timeout time.Duration) *VisionClient {
	return &VisionClient{newClient("vision", base, timeout)}
}

// Match identifies the product visible on a stream at a timestamp. An empty
// ProductID is a valid no-match; an out-of-range score is a contract
// violation and never reaches the gate.
func (c *VisionClient) Match(ctx context.Context, streamer, timestamp string, frameURLs []string) (VisionResponse, error) {
	var out VisionResponse
	if err := c.postJSON(ctx, "/match_product", VisionRequest{Streamer: streamer, Timestamp: timestamp, FrameURLs: frameURLs}, &out); err != nil {
		return out, err
	}
	if out.Score < 0 || out.Score > 1 {
		return out, c.invalidResponse(fmt.Errorf("score %v outside [0,1]", out.Score))
	}
	return out, nil
}
