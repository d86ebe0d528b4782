package onboarding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// Client talks to the service's onboarding endpoints on behalf of one user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates an onboarding client. token is the user's own CMS
// credential; the server forwards it so the join write is attributed to them.
func NewClient(baseURL, token string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("onboarding: base URL is required")
	}
	if token == "" {
		return nil, fmt.Errorf("onboarding: token is required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// JoinGroup issues the single idempotent join write.
func (c *Client) JoinGroup(ctx context.Context, groupID, personID string) error {
	payload, err := json.Marshal(map[string]string{
		"groupId": groupID,
		"userId":  personID,
	})
	if err != nil {
		return fmt.Errorf("onboarding: join: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/groups/join", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("onboarding: join: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("onboarding: join: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("onboarding: join failed with status %d: %s", resp.StatusCode, errorOf(body))
	}

	var parsed struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("onboarding: join: %w", err)
	}
	if !parsed.Success {
		return fmt.Errorf("onboarding: join rejected: %s", parsed.Error)
	}
	return nil
}

// CheckMembership asks whether the person is visible as a group member yet.
func (c *Client) CheckMembership(ctx context.Context, groupID, personID string) (bool, error) {
	query := url.Values{
		"groupId": {groupID},
		"userId":  {personID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/groups/membership?"+query.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("onboarding: membership: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("onboarding: membership: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("onboarding: membership check failed with status %d: %s", resp.StatusCode, errorOf(body))
	}

	var parsed struct {
		IsMember bool `json:"isMember"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("onboarding: membership: %w", err)
	}
	return parsed.IsMember, nil
}

func errorOf(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 128 {
		msg = msg[:128]
	}
	return msg
}
