package shopify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:     baseURL,
		AccessToken: "shpat_test",
		PageLimit:   2,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.sleep = func(time.Duration) {}
	return c
}

func TestFetchAllPaginates(t *testing.T) {
	t.Parallel()

	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Shopify-Access-Token"); got != "shpat_test" {
			t.Errorf("access token header = %q", got)
		}
		if r.URL.Path != "/products.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		switch r.URL.Query().Get("page_info") {
		case "":
			// First request carries the filters, later ones must not.
			if r.URL.Query().Get("status") != "active" {
				t.Error("first page missing status filter")
			}
			w.Header().Set("Link",
				fmt.Sprintf(`<%s/products.json?limit=2&page_info=cursor2>; rel="next"`, "http://shop"))
			fmt.Fprint(w, `{"products":[{"id":1},{"id":2}]}`)
		case "cursor2":
			if r.URL.Query().Get("status") != "" {
				t.Error("cursor page must not repeat filters")
			}
			fmt.Fprint(w, `{"products":[{"id":3}]}`)
		default:
			t.Errorf("unexpected page_info %q", r.URL.Query().Get("page_info"))
		}
		pages.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	out, err := c.FetchAll(context.Background(), "products.json",
		url.Values{"status": {"active"}})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(out) != 3 {
		t.Errorf("got %d records, want 3", len(out))
	}
	if pages.Load() != 2 {
		t.Errorf("made %d requests, want 2", pages.Load())
	}
	if out[2]["id"] != float64(3) {
		t.Errorf("last record = %v", out[2])
	}
}

func TestGetRetriesOn429(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"shop":{"name":"acme"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var waited time.Duration
	c.sleep = func(d time.Duration) { waited += d }

	resp, err := c.Get(context.Background(), "shop.json", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 2 {
		t.Errorf("made %d requests, want 2", calls.Load())
	}
}

func TestGetRetryAfterHonored(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var waited time.Duration
	c.sleep = func(d time.Duration) { waited = d }

	resp, err := c.Get(context.Background(), "shop.json", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if waited != 3*time.Second {
		t.Errorf("waited %v, want 3s from Retry-After", waited)
	}
}

func TestGetClientErrorIsFatal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"errors":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Get(context.Background(), "nope.json", nil); err == nil {
		t.Fatal("want error for 404")
	}
	if calls.Load() != 1 {
		t.Errorf("404 retried: %d requests", calls.Load())
	}
}

func TestGetRetriesOn5xx(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Get(context.Background(), "shop.json", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 3 {
		t.Errorf("made %d requests, want 3", calls.Load())
	}
}

func TestNextPageInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		link string
		want string
	}{
		{``, ""},
		{`<https://x/admin/api/2024-01/products.json?page_info=abc&limit=2>; rel="next"`, "abc"},
		{`<https://x/p.json?page_info=prev1>; rel="previous", <https://x/p.json?page_info=next1>; rel="next"`, "next1"},
		{`<https://x/p.json?page_info=prev1>; rel="previous"`, ""},
	}
	for _, tt := range tests {
		if got := nextPageInfo(tt.link); got != tt.want {
			t.Errorf("nextPageInfo(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestResourceName(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"products.json", "products"},
		{"custom_collections.json", "custom_collections"},
		{"orders/count.json", "count"},
	}
	for _, tt := range tests {
		if got := resourceName(tt.in); got != tt.want {
			t.Errorf("resourceName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
