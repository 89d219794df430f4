// Package shopify implements a small client for the Shopify Admin REST API
// with token auth, rate-limit aware retries, and cursor pagination.
//
// Design goals:
//
//   - Keep a tiny, explicit API (Get, FetchAll, ExchangeCode).
//   - Honor Retry-After on 429 and back off exponentially on 5xx.
//   - Respect context cancellation during requests and backoff waits.
//   - Be easy to test by overriding BaseURL and the sleep function.
package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"etlpipe/pkg/records"
)

// MaxPageLimit is the largest page size the Admin API accepts.
const MaxPageLimit = 250

// Config configures the Shopify client.
//
// Zero values are given sensible defaults:
//   - APIVersion: "2024-01"
//   - Timeout:    30s
//   - MaxRetries: 3
//   - PageLimit:  250
type Config struct {
	// Shop is the myshopify domain, e.g. "acme.myshopify.com".
	Shop string

	// AccessToken is sent as X-Shopify-Access-Token on every request.
	AccessToken string

	// APIVersion selects the Admin API version path segment.
	APIVersion string

	// BaseURL overrides the https://{shop}/admin/api/{version} base.
	// Used by tests to point at a local server.
	BaseURL string

	// Timeout is the per-request timeout at the http.Client level.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the initial request.
	MaxRetries int

	// PageLimit is the page size requested from the API, capped at 250.
	PageLimit int

	// Transport is an optional custom RoundTripper.
	Transport http.RoundTripper
}

// Client talks to one shop's Admin API.
type Client struct {
	baseURL    string
	token      string
	pageLimit  int
	maxRetries int
	httpClient *http.Client

	// sleep is injectable to make tests fast and deterministic.
	sleep func(time.Duration)
}

// NewClient constructs a Client from Config, applying defaults for zero
// values. Shop may be empty only when BaseURL is set.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Shop == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("shopify: shop must not be empty")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("shopify: access token must not be empty")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.PageLimit <= 0 || cfg.PageLimit > MaxPageLimit {
		cfg.PageLimit = MaxPageLimit
	}

	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s/admin/api/%s", cfg.Shop, cfg.APIVersion)
	}

	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      cfg.AccessToken,
		pageLimit:  cfg.PageLimit,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		sleep: time.Sleep,
	}, nil
}

// Get performs one authenticated GET against endpoint (e.g. "products.json")
// with the given query parameters. 429 responses wait for Retry-After and
// retry; 5xx responses retry with exponential backoff. The caller must close
// the response body.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	attempts := c.maxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("shopify: build request: %w", err)
		}
		req.Header.Set("X-Shopify-Access-Token", c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		var wait time.Duration
		switch {
		case err != nil:
			lastErr = err
			wait = backoffDuration(attempt)
		case resp.StatusCode == http.StatusTooManyRequests:
			wait = retryAfter(resp, backoffDuration(attempt))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("shopify: rate limited (429) on %s", endpoint)
		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("shopify: status %d from %s", resp.StatusCode, endpoint)
			wait = backoffDuration(attempt)
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("shopify: status %d from %s: %s",
				resp.StatusCode, endpoint, strings.TrimSpace(string(body)))
		default:
			return resp, nil
		}

		if attempt+1 >= attempts {
			return nil, lastErr
		}
		if err := sleepWithContext(ctx, c.sleep, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// FetchAll drains every page of a resource collection. endpoint is the
// collection endpoint ("products.json"); the resource key in each response
// body is derived from it. Pagination follows the page_info cursor carried in
// the Link response header; filter params are only sent on the first request
// because the API rejects them alongside page_info.
func (c *Client) FetchAll(ctx context.Context, endpoint string, params url.Values) (records.Batch, error) {
	resource := resourceName(endpoint)

	first := url.Values{}
	for k, vs := range params {
		first[k] = vs
	}
	first.Set("limit", strconv.Itoa(c.pageLimit))

	var out records.Batch
	pageInfo := ""
	for {
		q := first
		if pageInfo != "" {
			q = url.Values{
				"limit":     {strconv.Itoa(c.pageLimit)},
				"page_info": {pageInfo},
			}
		}

		resp, err := c.Get(ctx, endpoint, q)
		if err != nil {
			return nil, err
		}
		var body map[string]json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&body)
		link := resp.Header.Get("Link")
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("shopify: decode %s page: %w", endpoint, err)
		}

		var page []records.Record
		if raw, ok := body[resource]; ok {
			if err := json.Unmarshal(raw, &page); err != nil {
				return nil, fmt.Errorf("shopify: decode %s items: %w", endpoint, err)
			}
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)

		pageInfo = nextPageInfo(link)
		if pageInfo == "" {
			break
		}
	}
	return out, nil
}

// ExchangeCode swaps an OAuth authorization code for a permanent access
// token. Used once during shop onboarding; normal runs configure the token
// directly.
func ExchangeCode(ctx context.Context, shop, clientID, clientSecret, code string) (string, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
	}
	tokenURL := fmt.Sprintf("https://%s/admin/oauth/access_token", shop)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("shopify: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("shopify: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("shopify: token exchange status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("shopify: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("shopify: no access_token in response")
	}
	return payload.AccessToken, nil
}

var pageInfoRe = regexp.MustCompile(`[?&]page_info=([^&>]+)`)

// nextPageInfo extracts the page_info cursor from a Link header's rel="next"
// entry, or returns "" when there is no next page.
func nextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		if m := pageInfoRe.FindStringSubmatch(part); m != nil {
			return m[1]
		}
	}
	return ""
}

// resourceName derives the response body key from a collection endpoint:
// "products.json" -> "products", "custom_collections.json" ->
// "custom_collections".
func resourceName(endpoint string) string {
	s := strings.TrimSuffix(endpoint, ".json")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// retryAfter parses the Retry-After header, falling back to def.
func retryAfter(resp *http.Response, def time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}

// backoffDuration returns the exponential backoff duration for the given
// attempt number (0-based), clamped to 5s.
func backoffDuration(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}

// sleepWithContext sleeps for d using the provided sleep function, but aborts
// early if ctx is canceled.
func sleepWithContext(ctx context.Context, sleep func(time.Duration), d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	go func() {
		sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
