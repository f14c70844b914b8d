// Package dispatch is the HTTP client for the remote dispatch service
// that records stop arrivals and accepts completion proofs.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"courier-simulator/internal/stops"
)

const defaultTimeout = 10 * time.Second

// Client implements stops.Dispatch against the dispatch REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type arrivalRequest struct {
	ArrivedAt time.Time `json:"arrivedAt"`
}

// MarkArrived reports that the vehicle reached a stop.
func (c *Client) MarkArrived(ctx context.Context, stopID string, at time.Time) error {
	return c.post(ctx, fmt.Sprintf("/stops/%s/arrival", url.PathEscape(stopID)), arrivalRequest{ArrivedAt: at})
}

// SubmitProof uploads the completion proof for a stop.
func (c *Client) SubmitProof(ctx context.Context, stopID string, proof stops.Proof) error {
	return c.post(ctx, fmt.Sprintf("/stops/%s/proof", url.PathEscape(stopID)), proof)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch returned %d for %s", resp.StatusCode, path)
	}
	return nil
}
