// Package gateway holds the thin request/response clients for the four
// downstream collaborators: intent, vision, order and notification. Each
// call is bounded by a per-gateway timeout and every failure is classified
// at this boundary as transient (retryable) or permanent before it reaches
// the orchestrator's state machine.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Kind classifies a gateway failure for the retry policy.
type Kind int

const (
	// KindTransient covers timeouts, transport errors and 5xx: retried
	// with bounded backoff.
	KindTransient Kind = iota
	// KindPermanent covers 4xx responses: dead-lettered immediately.
	KindPermanent
)

// Error is a classified gateway failure.
type Error struct {
	Gateway string
	Kind    Kind
	Status  int
	Err     error
}

func (e *Error) Error() string {
	k := "transient"
	if e.Kind == KindPermanent {
		k = "permanent"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s gateway: %s error (status %d): %v", e.Gateway, k, e.Status, e.Err)
	}
	return fmt.Sprintf("%s gateway: %s error: %v", e.Gateway, k, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindTransient
}

// IsPermanent reports whether err is a non-retryable gateway failure.
func IsPermanent(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindPermanent
}

type client struct {
	name  string
	base  string
	httpc *http.Client
}

func newClient(name, base string, timeout time.Duration) client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return client{name: name, base: base, httpc: &http.Client{Timeout: timeout}}
}

// postJSON posts in as JSON to path and decodes the response into out.
// A timed-out or refused call is never left pending: the client timeout
// bounds it and the error comes back classified as transient.
func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s gateway: marshal request: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%s gateway: build request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &Error{Gateway: c.name, Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{Gateway: c.name, Kind: KindTransient, Status: resp.StatusCode, Err: fmt.Errorf("%s", string(body))}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{Gateway: c.name, Kind: KindPermanent, Status: resp.StatusCode, Err: fmt.Errorf("%s", string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Gateway: c.name, Kind: KindTransient, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// invalidResponse flags a decoded response that violates the gateway's
// contract (out-of-range score, missing required field). Classified as
// permanent: a service emitting garbage will not heal under retry, and the
// entry must not drive an order.
func (c *client) invalidResponse(err error) error {
	return &Error{Gateway: c.name, Kind: KindPermanent, Err: fmt.Errorf("invalid response: %w", err)}
}
