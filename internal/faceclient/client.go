// Package faceclient talks to the face recognition service that owns face
// encodings. It never matches faces itself.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	FaceSize  int     `json:"face_size"`
	IsFrontal bool    `json:"is_frontal"`
}

// EnrollResult contains face enrollment response.
type EnrollResult struct {
	UserID  string       `json:"user_id"`
	Success bool         `json:"success"`
	Quality *FaceQuality `json:"quality"`
	Message string       `json:"message"`
}

// SearchMatch represents a face match from gallery search.
type SearchMatch struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
	Name       string  `json:"name,omitempty"`
}

// SearchResult contains 1:N search results for every face in a frame.
type SearchResult struct {
	Matches       []SearchMatch `json:"matches"`
	FacesDetected int           `json:"faces_detected"`
	Quality       *FaceQuality  `json:"quality"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set every call returns canned results.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Health checks the face service health.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// Enroll registers the face in imageURL under userID and display name.
func (c *Client) Enroll(ctx context.Context, userID, imageURL, name string) (*EnrollResult, error) {
	if c.Skip {
		return &EnrollResult{UserID: userID, Success: true, Message: "mock enrollment"}, nil
	}
	if userID == "" || imageURL == "" {
		return nil, fmt.Errorf("user id and image url required")
	}
	var out EnrollResult
	err := c.postJSON(ctx, "/enroll", map[string]any{
		"user_id":   userID,
		"image_url": imageURL,
		"name":      name,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Search finds the closest enrolled faces for every face in imageURL.
// Matches below threshold are left out by the service when threshold > 0.
func (c *Client) Search(ctx context.Context, imageURL string, topK int, threshold float64) (*SearchResult, error) {
	if c.Skip {
		return &SearchResult{
			Matches:       []SearchMatch{{UserID: "mock-user", Similarity: 0.92, Name: "Mock User"}},
			FacesDetected: 1,
			Quality:       &FaceQuality{Score: 0.85, IsFrontal: true},
		}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}
	payload := map[string]any{
		"image_url": imageURL,
		"top_k":     topK,
	}
	if threshold > 0 {
		payload["threshold"] = threshold
	}
	var out SearchResult
	if err := c.postJSON(ctx, "/search", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode face response: %w", err)
	}
	return nil
}
