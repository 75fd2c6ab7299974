// Package registry looks up business registration numbers in the public
// business registry.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const httpTimeout = 5 * time.Second

// State is the registration state of a business number.
type State string

const (
	StateActive    State = "ACTIVE"
	StateSuspended State = "SUSPENDED"
	StateClosed    State = "CLOSED"
	StateNotFound  State = "NOT_FOUND"
)

// ErrNotConfigured is returned by Lookup when no endpoint is set.
var ErrNotConfigured = errors.New("business registry not configured")

// Client queries the registry's status endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

// NewClient constructs a Client with a shared HTTP client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

type statusRequest struct {
	Numbers []string `json:"b_no"`
}

type statusResponse struct {
	Data []struct {
		Number     string `json:"b_no"`
		StatusCode string `json:"b_stt_cd"`
	} `json:"data"`
}

// Lookup returns the registration state of bizNo.
func (c *Client) Lookup(ctx context.Context, bizNo string) (State, error) {
	if c.BaseURL == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(statusRequest{Numbers: []string{bizNo}})
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("serviceKey", c.APIKey)
	reqURL := c.BaseURL + "/status?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry returned HTTP %d", resp.StatusCode)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	for _, d := range out.Data {
		if d.Number == bizNo {
			return parseStatusCode(d.StatusCode), nil
		}
	}
	return StateNotFound, nil
}

// parseStatusCode maps the registry's status codes: 01 active, 02
// suspended, 03 closed; anything else means the number is unknown.
func parseStatusCode(code string) State {
	switch code {
	case "01":
		return StateActive
	case "02":
		return StateSuspended
	case "03":
		return StateClosed
	}
	return StateNotFound
}
