// Package gateway confirms card and wallet payments with the payment
// provider after the buyer's redirect.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const httpTimeout = 10 * time.Second

// ErrNotConfigured is returned by Confirm when no endpoint is set.
var ErrNotConfigured = errors.New("payment gateway not configured")

// Result is the provider's verdict on one confirmation.
type Result struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Method   string `json:"method,omitempty"`
}

// Client calls the provider's confirm endpoint. The secret key is sent as
// HTTP basic auth user with an empty password.
type Client struct {
	BaseURL   string
	SecretKey string
	client    *http.Client
}

// NewClient constructs a Client with a shared HTTP client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		client:    &http.Client{Timeout: httpTimeout},
	}
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type confirmResponse struct {
	Status string `json:"status"`
	Method string `json:"method"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Confirm asks the provider to capture amount for orderID. A 2xx with
// status DONE is an approval; any 4xx is a decline carrying the provider's
// message. 5xx responses and transport failures are returned as errors so
// the caller can retry.
func (c *Client) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (Result, error) {
	if c.BaseURL == "" {
		return Result{}, ErrNotConfigured
	}

	body, err := json.Marshal(confirmRequest{PaymentKey: paymentKey, OrderID: orderID, Amount: amount})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/payments/confirm", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.SetBasicAuth(c.SecretKey, "")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", orderID)

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("confirm request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		reason := e.Message
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		if e.Code != "" {
			reason = e.Code + ": " + reason
		}
		return Result{Reason: reason}, nil
	}

	var ok confirmResponse
	if err := json.Unmarshal(raw, &ok); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if ok.Status != "DONE" {
		return Result{Reason: "payment status " + ok.Status, Method: ok.Method}, nil
	}
	return Result{Approved: true, Method: ok.Method}, nil
}
