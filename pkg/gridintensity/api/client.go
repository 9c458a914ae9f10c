package api

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

	"k8s.io/klog/v2"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
)

// maxBodySize bounds how much of a response body is read
const maxBodySize = 4 << 20

// HTTPClient interface allows mocking http.Client in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs single-attempt JSON GET requests against one provider API.
// Every failure is reported as *intensity.FetchError.
type Client struct {
	fetcher    string
	baseURL    string
	httpClient HTTPClient
	headers    http.Header
}

// ClientOption allows customizing the client
type ClientOption func(*Client)

// WithHTTPClient allows injecting a custom HTTP client
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the timeout of the default HTTP client. It has no effect
// on a client injected with WithHTTPClient.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if hc, ok := c.httpClient.(*http.Client); ok && timeout > 0 {
			hc.Timeout = timeout
		}
	}
}

// WithHeader adds a header to every request, e.g. an auth token
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// NewClient creates a client for the API rooted at baseURL. The fetcher name
// is stamped on every returned error.
func NewClient(fetcher, baseURL string, opts ...ClientOption) *Client {
	client := &Client{
		fetcher:    fetcher,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    http.Header{},
	}
	client.headers.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// URL joins the base URL, path and encoded query
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// GetURL returns the base URL used for API requests
func (c *Client) GetURL() string {
	return c.baseURL
}

// GetJSON requests path with query and decodes a 2xx JSON body into out
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := c.URL(path, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	klog.V(2).InfoS("Making carbon API request",
		"fetcher", c.fetcher,
		"url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &intensity.FetchError{Fetcher: c.fetcher, URL: reqURL, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &intensity.FetchError{
			Fetcher:    c.fetcher,
			URL:        reqURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to read response: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		klog.V(2).InfoS("Carbon API returned non-OK status",
			"fetcher", c.fetcher,
			"url", reqURL,
			"status", resp.StatusCode)
		return &intensity.FetchError{
			Fetcher:    c.fetcher,
			URL:        reqURL,
			StatusCode: resp.StatusCode,
			Body:       errorPayload(reqURL, resp.StatusCode, body),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &intensity.FetchError{
			Fetcher:    c.fetcher,
			URL:        reqURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}

	return nil
}

// errorPayload prefers the provider's own JSON error body and otherwise
// describes the failed request
func errorPayload(reqURL string, statusCode int, body []byte) any {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil && decoded != nil {
		return decoded
	}

	msg := fmt.Sprintf("failed to retrieve data from %s, status code %d", reqURL, statusCode)
	if raw := bytes.TrimSpace(body); len(raw) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, raw)
	}
	return msg
}
