// Package attendclient submits hashed attendance payloads to the API.
package attendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chainattend/internal/integrity"
)

// Response is the API's answer to an accepted record.
type Response struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id,omitempty"`
}

// StatusError is returned for any status other than 200 or 201.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("attendance api returned %d: %s", e.Code, e.Body)
}

// Client posts payloads to a single attendance endpoint.
type Client struct {
	URL  string
	HTTP *http.Client
}

// New creates a client for url, e.g. http://127.0.0.1:8080/attendance.
func New(url string) *Client {
	return &Client{URL: url, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// Submit sends p and decodes the server reply.
func (c *Client) Submit(ctx context.Context, p integrity.Payload) (*Response, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attendance request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("server returned non-JSON: %s", strings.TrimSpace(string(raw)))
	}
	return &out, nil
}
