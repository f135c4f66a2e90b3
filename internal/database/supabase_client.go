// Package database provides Supabase (PostgREST) database integration.
package database

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/emberlog/service_layer/internal/httputil"
)

// Client wraps the Supabase REST API client.
type Client struct {
	url        string
	serviceKey string
	httpClient *http.Client
}

// Config holds database configuration.
type Config struct {
	URL        string
	ServiceKey string
	Timeout    time.Duration
}

// NewClient creates a new Supabase client.
func NewClient(cfg Config) (*Client, error) {
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" {
		return nil, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.ServiceKey == "" {
		return nil, fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}

	parsed, err := neturl.Parse(url)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("SUPABASE_URL must be an absolute URL")
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("SUPABASE_URL must not include user info")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		cloned := base.Clone()
		if cloned.TLSClientConfig != nil {
			cloned.TLSClientConfig = cloned.TLSClientConfig.Clone()
			if cloned.TLSClientConfig.MinVersion < tls.VersionTLS12 {
				cloned.TLSClientConfig.MinVersion = tls.VersionTLS12
			}
		} else {
			cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		transport = cloned
	}

	return &Client{
		url:        url,
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

const (
	maxSupabaseResponseBytes  = 8 << 20  // 8 MiB
	maxSupabaseErrorBodyBytes = 32 << 10 // 32 KiB
)

// Prefer header values.
const (
	preferRepresentation = "return=representation"
	preferCountExact     = "count=exact"
	preferUpsert         = "resolution=merge-duplicates,return=representation"
)

// APIError is a non-2xx PostgREST response.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Code != "" {
		return fmt.Sprintf("supabase API error %d [%s]: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("supabase API error %d: %s", e.Status, msg)
}

// parseAPIError extracts the PostgREST error fields, falling back to the raw body.
func parseAPIError(status int, body []byte, truncated bool) *APIError {
	apiErr := &APIError{Status: status}
	if gjson.ValidBytes(body) {
		res := gjson.ParseBytes(body)
		apiErr.Code = res.Get("code").String()
		apiErr.Message = res.Get("message").String()
		apiErr.Details = res.Get("details").String()
		apiErr.Hint = res.Get("hint").String()
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		if truncated {
			apiErr.Message += "...(truncated)"
		}
	}
	return apiErr
}

// request makes an HTTP request to the Supabase REST API.
func (c *Client) request(ctx context.Context, method, table string, body interface{}, query string) ([]byte, error) {
	data, _, err := c.do(ctx, method, table, body, query, preferRepresentation)
	return data, err
}

func (c *Client) do(ctx context.Context, method, table string, body interface{}, query, prefer string) ([]byte, http.Header, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.url, table)
	if query != "" {
		url += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, truncated, readErr := httputil.ReadAllWithLimit(resp.Body, maxSupabaseErrorBodyBytes)
		if readErr != nil {
			return nil, nil, fmt.Errorf("read error response: %w", readErr)
		}
		return nil, nil, parseAPIError(resp.StatusCode, respBody, truncated)
	}

	respBody, err := httputil.ReadAllStrict(resp.Body, maxSupabaseResponseBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	return respBody, resp.Header, nil
}
