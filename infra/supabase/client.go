package supabase

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxResponseBytes  = 8 << 20  // 8 MiB
	maxErrorBodyBytes = 32 << 10 // 32 KiB
)

// Client is the main Supabase client.
type Client struct {
	config     Config
	httpClient *http.Client

	// Derived values
	baseURL      string
	restURL      string
	authURL      string
	storageURL   string
	allowedHosts map[string]struct{}

	// Sub-clients
	auth     *AuthClient
	database *DatabaseClient
	storage  *StorageClient
}

// response is the raw result of a Supabase HTTP call.
type response struct {
	Body       []byte
	StatusCode int
	Header     http.Header
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.ProjectURL == "" {
		return nil, fmt.Errorf("project URL is required")
	}
	if cfg.ServiceKey == "" && cfg.AnonKey == "" {
		return nil, fmt.Errorf("service key or anon key is required")
	}

	// Parse and validate URL
	baseURL := strings.TrimRight(cfg.ProjectURL, "/")
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid project URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid project URL: %s", baseURL)
	}
	if parsedURL.User != nil {
		return nil, fmt.Errorf("project URL must not include user info")
	}

	// Build allowed hosts
	allowedHosts := make(map[string]struct{})
	if len(cfg.AllowedHosts) == 0 {
		allowedHosts[parsedURL.Hostname()] = struct{}{}
	} else {
		for _, h := range cfg.AllowedHosts {
			if h != "" {
				allowedHosts[h] = struct{}{}
			}
		}
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: defaultTransport(),
		}
	}

	c := &Client{
		config:       cfg,
		httpClient:   httpClient,
		baseURL:      baseURL,
		restURL:      baseURL + "/rest/v1",
		authURL:      baseURL + "/auth/v1",
		storageURL:   baseURL + "/storage/v1",
		allowedHosts: allowedHosts,
	}

	c.auth = &AuthClient{client: c}
	c.database = &DatabaseClient{client: c}
	c.storage = &StorageClient{client: c}

	return c, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	cloned := base.Clone()
	if cloned.TLSClientConfig != nil {
		cloned.TLSClientConfig = cloned.TLSClientConfig.Clone()
		if cloned.TLSClientConfig.MinVersion < tls.VersionTLS12 {
			cloned.TLSClientConfig.MinVersion = tls.VersionTLS12
		}
	} else {
		cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cloned
}

// Auth returns the auth client.
func (c *Client) Auth() *AuthClient {
	return c.auth
}

// Database returns the database client.
func (c *Client) Database() *DatabaseClient {
	return c.database
}

// Storage returns the storage client.
func (c *Client) Storage() *StorageClient {
	return c.storage
}

// From is shorthand for Database().From(table).
func (c *Client) From(table string) *QueryBuilder {
	return c.database.From(table)
}

// HealthCheck probes the REST endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.restURL+"/", nil, nil, "")
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return parseError(resp.Body, resp.StatusCode)
	}
	return nil
}

// =============================================================================
// Internal HTTP Methods
// =============================================================================

// serverKey is the key used for server-side calls.
func (c *Client) serverKey() string {
	if c.config.ServiceKey != "" {
		return c.config.ServiceKey
	}
	return c.config.AnonKey
}

// do performs an HTTP request. With an empty accessToken the service key is
// used for both apikey and Authorization.
func (c *Client) do(ctx context.Context, method, urlPath string, body []byte, headers map[string]string, accessToken string) (*response, error) {
	if err := c.validateURL(urlPath); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlPath, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range c.buildHeaders(headers) {
		req.Header.Set(k, v)
	}

	if accessToken != "" {
		apiKey := c.config.AnonKey
		if apiKey == "" {
			apiKey = c.config.ServiceKey
		}
		req.Header.Set("apikey", apiKey)
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		key := c.serverKey()
		req.Header.Set("apikey", key)
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := int64(maxResponseBytes)
	if resp.StatusCode >= 400 {
		limit = maxErrorBodyBytes
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &response{Body: respBody, StatusCode: resp.StatusCode, Header: resp.Header}, nil
}

// doJSON performs a request and treats any status >= 400 as an error.
func (c *Client) doJSON(ctx context.Context, method, urlPath string, payload interface{}, accessToken string) ([]byte, error) {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = encoded
	}

	resp, err := c.do(ctx, method, urlPath, body, nil, accessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp.Body, resp.StatusCode)
	}
	return resp.Body, nil
}

// buildHeaders builds request headers.
func (c *Client) buildHeaders(extra map[string]string) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}

	for k, v := range c.config.DefaultHeaders {
		headers[k] = v
	}

	for k, v := range extra {
		headers[k] = v
	}

	return headers
}

// validateURL validates that the URL is allowed.
func (c *Client) validateURL(rawURL string) error {
	if len(c.allowedHosts) == 0 {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("invalid URL host")
	}

	if _, ok := c.allowedHosts[host]; !ok {
		return fmt.Errorf("host not allowed: %s", host)
	}

	return nil
}

// parseError parses an error response.
func parseError(body []byte, statusCode int) error {
	var errResp struct {
		Code             string `json:"code"`
		Message          string `json:"message"`
		Details          string `json:"details"`
		Hint             string `json:"hint"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(statusCode)
		}
		return &Error{
			Code:       "unknown",
			Message:    msg,
			StatusCode: statusCode,
		}
	}

	msg := errResp.Message
	if msg == "" {
		msg = errResp.ErrorDescription
	}
	if msg == "" {
		msg = errResp.Msg
	}
	if msg == "" {
		msg = errResp.Error
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	return &Error{
		Code:       errResp.Code,
		Message:    msg,
		Details:    errResp.Details,
		Hint:       errResp.Hint,
		StatusCode: statusCode,
	}
}
