package entu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Credential is an actor's bearer token. Every write the service performs is
// attributed to the human whose edit triggered it, so the credential travels
// with each call instead of living on the client.
type Credential string

// APIError is a non-2xx response from the CMS.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("entu: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the CMS.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401/403 from the CMS.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

const (
	defaultRequestTimeout = 15 * time.Second
	defaultSearchLimit    = 1000
	kindCacheSize         = 4096
)

// Client is the typed HTTP gateway to the Entu entity API.
type Client struct {
	baseURL string
	account string
	http    *http.Client

	// Entity kinds are immutable in the CMS, so id→kind lookups are cached.
	kinds *lru.Cache[string, string]

	// observe, when set, receives one call per completed API request.
	observe func(op string, status int, duration time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver installs a per-request metrics callback.
func WithObserver(fn func(op string, status int, duration time.Duration)) Option {
	return func(c *Client) { c.observe = fn }
}

// NewClient creates a gateway for one CMS account. baseURL is the API root
// (e.g. "https://entu.app/api"), account the tenant path segment.
func NewClient(baseURL, account string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("entu: base URL is required")
	}
	if account == "" {
		return nil, fmt.Errorf("entu: account is required")
	}
	kinds, err := lru.New[string, string](kindCacheSize)
	if err != nil {
		return nil, fmt.Errorf("entu: kind cache: %w", err)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		account: account,
		http:    &http.Client{Timeout: defaultRequestTimeout},
		kinds:   kinds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetEntity fetches one entity by id using the actor's credential.
func (c *Client) GetEntity(ctx context.Context, id string, cred Credential) (*Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("entu: entity id is required")
	}
	body, err := c.do(ctx, "get_entity", http.MethodGet, c.entityURL(id), nil, cred)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Entity json.RawMessage `json:"entity"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("entu: get_entity %s: %w", id, err)
	}
	if len(envelope.Entity) == 0 {
		return nil, &APIError{Op: "get_entity", StatusCode: http.StatusNotFound, Message: "empty entity body"}
	}
	entity, err := decodeEntity(envelope.Entity)
	if err != nil {
		return nil, fmt.Errorf("entu: get_entity %s: %w", id, err)
	}
	c.kinds.Add(entity.ID, entity.Kind)
	return entity, nil
}

// SearchEntities runs an entity query. The query keys use the CMS filter
// syntax ("_type.string", "_parent.reference", ...). A limit is always set.
func (c *Client) SearchEntities(ctx context.Context, query url.Values, cred Credential) ([]*Entity, error) {
	q := url.Values{}
	for key, vals := range query {
		for _, v := range vals {
			q.Add(key, v)
		}
	}
	if q.Get("limit") == "" {
		q.Set("limit", fmt.Sprintf("%d", defaultSearchLimit))
	}

	endpoint := fmt.Sprintf("%s/%s/entity?%s", c.baseURL, c.account, q.Encode())
	body, err := c.do(ctx, "search_entities", http.MethodGet, endpoint, nil, cred)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Entities []json.RawMessage `json:"entities"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("entu: search_entities: %w", err)
	}

	entities := make([]*Entity, 0, len(envelope.Entities))
	for _, raw := range envelope.Entities {
		entity, err := decodeEntity(raw)
		if err != nil {
			return nil, fmt.Errorf("entu: search_entities: %w", err)
		}
		c.kinds.Add(entity.ID, entity.Kind)
		entities = append(entities, entity)
	}
	return entities, nil
}

// AddReference appends a reference property (e.g. _expander, _parent) onto an
// entity. The CMS treats property lists as append-only; callers check current
// membership first to keep the operation idempotent.
func (c *Client) AddReference(ctx context.Context, entityID, property, refID string, cred Credential) error {
	if entityID == "" || property == "" || refID == "" {
		return fmt.Errorf("entu: add_reference: entity id, property and reference are all required")
	}
	payload, err := json.Marshal([]map[string]string{{
		"type":      property,
		"reference": refID,
	}})
	if err != nil {
		return fmt.Errorf("entu: add_reference: %w", err)
	}
	_, err = c.do(ctx, "add_reference", http.MethodPost, c.entityURL(entityID), payload, cred)
	return err
}

// EntityKind returns the type discriminator for an entity id, fetching the
// entity only on cache miss.
func (c *Client) EntityKind(ctx context.Context, id string, cred Credential) (string, error) {
	if kind, ok := c.kinds.Get(id); ok {
		return kind, nil
	}
	entity, err := c.GetEntity(ctx, id, cred)
	if err != nil {
		return "", err
	}
	return entity.Kind, nil
}

// Ping checks API reachability for readiness probes. Auth failures still mean
// the API answered, so anything below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, c.account)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("entu: ping: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 500 {
		return &APIError{Op: "ping", StatusCode: resp.StatusCode, Message: "server error"}
	}
	return nil
}

func (c *Client) entityURL(id string) string {
	return fmt.Sprintf("%s/%s/entity/%s", c.baseURL, c.account, url.PathEscape(id))
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, payload []byte, cred Credential) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("entu: %s: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if cred != "" {
		req.Header.Set("Authorization", "Bearer "+string(cred))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(op, 0, time.Since(start))
		return nil, fmt.Errorf("entu: %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	c.record(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("entu: %s: read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}
	return body, nil
}

func (c *Client) record(op string, status int, duration time.Duration) {
	if c.observe != nil {
		c.observe(op, status, duration)
	}
}

// errorMessage pulls a usable message out of an error response body.
func errorMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}
