package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Subscription is the provider's authoritative view of one subscription,
// normalized from the provider response at this boundary.
type Subscription struct {
	ID           string     `json:"id"`
	CustomerID   string     `json:"customer_id"`
	PriceID      string     `json:"price_id"`
	Status       string     `json:"status"`
	NextBilledAt *time.Time `json:"next_billed_at,omitempty"`
}

// ErrSubscriptionNotFound is returned when the provider has no record of
// the queried subscription.
var ErrSubscriptionNotFound = errors.New("provider: subscription not found")

// Client queries the provider's authoritative state. The reconciliation
// scanner treats it as an external collaborator: every call must honor
// context cancellation and deadlines.
type Client interface {
	GetSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error)
}

// HTTPClient talks to the provider's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient builds a provider API client. timeout bounds each request
// independently of the caller's context.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) (*HTTPClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("provider: base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("provider: parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider: invalid base URL %q", baseURL)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("provider: API key is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(u.String(), "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// GetSubscription fetches and normalizes one subscription. Response
// shapes vary across provider SDK versions (object-like vs dict-like
// nesting), so both are absorbed here.
func (c *HTTPClient) GetSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, fmt.Errorf("provider: subscription ID is required")
	}

	body, status, err := c.get(ctx, "/subscriptions/"+url.PathEscape(providerSubscriptionID))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrSubscriptionNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("provider: get subscription %s: unexpected status %d", providerSubscriptionID, status)
	}

	// Some responses wrap the object in "data", some return it bare.
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	raw := body
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Data) > 0 {
		raw = wrapped.Data
	}

	var resp struct {
		ID           string     `json:"id"`
		CustomerID   string     `json:"customer_id"`
		Status       string     `json:"status"`
		NextBilledAt *time.Time `json:"next_billed_at"`
		Items        []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("provider: decode subscription %s: %w", providerSubscriptionID, err)
	}

	sub := &Subscription{
		ID:           resp.ID,
		CustomerID:   resp.CustomerID,
		Status:       resp.Status,
		NextBilledAt: resp.NextBilledAt,
	}
	if len(resp.Items) > 0 {
		sub.PriceID = resp.Items[0].Price.ID
	}
	if sub.ID == "" {
		sub.ID = providerSubscriptionID
	}

	return sub, nil
}

func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("provider: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("provider: read response: %w", err)
	}

	return body, resp.StatusCode, nil
}
