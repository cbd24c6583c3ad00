/**
 * @description
 * This package provides a client for the profile collaborator service. It is
 * used only for best-effort enrichment: fetching avatar references to store on
 * completed transfers. Failures here never affect transfer outcomes.
 */
package profileclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a client for the profile service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new profile service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type profileImageResponse struct {
	ImageURL string `json:"image_url"`
}

// GetProfileImage returns the avatar URL for a user at a bank, or nil when the
// user has no image. Callers treat any error as "image unavailable".
func (c *Client) GetProfileImage(ctx context.Context, userID, bsimID string) (*string, error) {
	if c == nil || c.baseURL == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/api/v1/profiles/%s/image?bsim_id=%s",
		c.baseURL, url.PathEscape(userID), url.QueryEscape(bsimID))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("profile service returned status %d", resp.StatusCode)
	}

	var payload profileImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	if payload.ImageURL == "" {
		return nil, nil
	}
	return &payload.ImageURL, nil
}
