package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const validatePath = "/v1/validate-receipt"

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks

// Backend is the receipt validation service. The production implementation is
// Client; tests substitute a mock.
type Backend interface {
	ValidateReceipt(ctx context.Context, req Request) (*Response, error)
}

// Client is the HTTP Backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client for the given base URL. timeout bounds a single
// attempt; the retry budget lives in the Validator.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) ValidateReceipt(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode validate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+validatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build validate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.TransactionID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post validate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeStatusError(resp)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode validate response: %w", err)
	}
	return &out, nil
}

func decodeStatusError(resp *http.Response) error {
	se := &StatusError{Status: resp.StatusCode, Code: "unknown", Message: resp.Status}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return se
	}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		se.Code = body.Code
		se.Message = body.Message
	}
	return se
}
