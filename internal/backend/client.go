// Package backend is the typed HTTP client for the APQP/PPAP REST backend.
// The backend owns persistence; this service only consumes its documented
// request/response contracts.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Mordig101/apqp-history/internal/domain"
)

// ErrMissingResults indicates the paginated history response violated its
// structural contract: flattening must not run without a results object.
var ErrMissingResults = errors.New("history response missing results")

// Client talks to the backend history endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ProjectHistories fetches one page of the nested project-history payload.
func (c *Client) ProjectHistories(ctx context.Context, page, pageSize int) (domain.PaginatedHistory, error) {
	values := url.Values{}
	values.Set("page", strconv.Itoa(page))
	values.Set("page_size", strconv.Itoa(pageSize))
	endpoint := fmt.Sprintf("%s/history/?%s", c.baseURL, values.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return domain.PaginatedHistory{}, err
	}

	var envelope struct {
		Total    int             `json:"total"`
		Page     int             `json:"page"`
		PageSize int             `json:"page_size"`
		Pages    int             `json:"pages"`
		Results  json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.PaginatedHistory{}, fmt.Errorf("decode history response: %w", err)
	}
	if len(envelope.Results) == 0 || string(envelope.Results) == "null" {
		return domain.PaginatedHistory{}, ErrMissingResults
	}

	results := map[string]domain.ProjectHistory{}
	if err := json.Unmarshal(envelope.Results, &results); err != nil {
		return domain.PaginatedHistory{}, fmt.Errorf("decode history results: %w", err)
	}

	return domain.PaginatedHistory{
		Total:    envelope.Total,
		Page:     envelope.Page,
		PageSize: envelope.PageSize,
		Pages:    envelope.Pages,
		Results:  results,
	}, nil
}

// TableHistory fetches the single-table history feed for one project, the
// variant the per-project history page consumes.
func (c *Client) TableHistory(ctx context.Context, table domain.HistoryTable, projectID string) ([]domain.RawHistoryRecord, error) {
	values := url.Values{}
	values.Set("project_id", projectID)
	endpoint := fmt.Sprintf("%s/history/%s/?%s", c.baseURL, url.PathEscape(string(table)), values.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	records := []domain.RawHistoryRecord{}
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode %s history: %w", table, err)
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, errorMessage(resp.StatusCode, body))
	}
	return body, nil
}

// errorMessage extracts the backend's error text from a failure body when
// possible, falling back to the HTTP status text.
func errorMessage(status int, body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
				return value
			}
		}
	}
	return http.StatusText(status)
}
