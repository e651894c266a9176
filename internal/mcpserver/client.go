package mcpserver

import (
	"bytes"
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

	"github.com/rentwise/riskd/internal/circuitbreaker"
)

// Config holds the configuration for reaching the riskd API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	Token  string // Bearer JWT, see cmd/token
}

// RiskClient is a thin HTTP client for the riskd REST API.
type RiskClient struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewRiskClient creates a new client for the riskd API.
func NewRiskClient(cfg Config) *RiskClient {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &RiskClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details []json.RawMessage `json:"details"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *RiskClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var out json.RawMessage
	err = c.breaker.Do(c.cfg.APIURL, func() (bool, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return true, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			failed := resp.StatusCode >= 500
			var apiErr apiError
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
				return failed, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
			}
			return failed, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
		}
		out = json.RawMessage(respBody)
		return false, nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("riskd API unavailable, retry later: %w", err)
	}
	return out, err
}

// ProductProfiles returns every risk profile for a product.
func (c *RiskClient) ProductProfiles(ctx context.Context, productID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/products/"+url.PathEscape(productID)+"/profiles", nil, nil)
}

// CheckCompliance evaluates a booking without recording violations.
func (c *RiskClient) CheckCompliance(ctx context.Context, bookingID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/compliance/check", nil, map[string]string{"bookingId": bookingID})
}

// Enforce evaluates a booking and records violations for unmet requirements.
func (c *RiskClient) Enforce(ctx context.Context, bookingID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/enforce", nil, map[string]string{"bookingId": bookingID})
}

// ViolationQuery filters ListViolations.
type ViolationQuery struct {
	BookingID string
	ProductID string
	Status    string
	Severity  string
	Limit     int
}

// ListViolations lists violations, most recently detected first.
func (c *RiskClient) ListViolations(ctx context.Context, vq ViolationQuery) (json.RawMessage, error) {
	q := url.Values{}
	if vq.BookingID != "" {
		q.Set("bookingId", vq.BookingID)
	}
	if vq.ProductID != "" {
		q.Set("productId", vq.ProductID)
	}
	if vq.Status != "" {
		q.Set("status", vq.Status)
	}
	if vq.Severity != "" {
		q.Set("severity", vq.Severity)
	}
	if vq.Limit > 0 {
		q.Set("limit", strconv.Itoa(vq.Limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/violations", q, nil)
}

// Stats returns the dashboard overview.
func (c *RiskClient) Stats(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/stats", nil, nil)
}

// Trends returns daily buckets for period (7d, 30d or 90d).
func (c *RiskClient) Trends(ctx context.Context, period string) (json.RawMessage, error) {
	q := url.Values{}
	if period != "" {
		q.Set("period", period)
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/trends", q, nil)
}
