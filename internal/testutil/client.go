package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/unwatchhq/unwatch/internal/auth"
)

// TestClient provides HTTP client utilities for making authenticated requests
// to the test server.
type TestClient struct {
	*http.Client
	t       *testing.T
	ts      *TestServer
	token   string         // For bearer auth
	cookies []*http.Cookie // For cookie auth
}

// NewTestClient creates a new test client for the given server.
func NewTestClient(t *testing.T, ts *TestServer) *TestClient {
	t.Helper()

	return &TestClient{
		Client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		t:  t,
		ts: ts,
	}
}

// WithToken returns a client that sends token as a bearer token, the way
// the mobile app does.
func (c *TestClient) WithToken(token string) *TestClient {
	return &TestClient{
		Client: c.Client,
		t:      c.t,
		ts:     c.ts,
		token:  token,
	}
}

// WithSession returns a client that sends token as the session cookie,
// the way a browser does.
func (c *TestClient) WithSession(token string) *TestClient {
	return &TestClient{
		Client: c.Client,
		t:      c.t,
		ts:     c.ts,
		cookies: []*http.Cookie{{
			Name:  auth.SessionCookieName,
			Value: token,
		}},
	}
}

// Request makes an HTTP request to the test server.
// Body can be nil, a struct (will be JSON encoded), or an io.Reader.
func (c *TestClient) Request(method, path string, body interface{}) (*http.Response, error) {
	return c.RequestWithHeaders(method, path, body, nil)
}

// RequestWithHeaders makes an HTTP request with custom headers.
func (c *TestClient) RequestWithHeaders(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := c.ts.URL + path

	var bodyReader io.Reader
	if body != nil {
		switch v := body.(type) {
		case io.Reader:
			bodyReader = v
		case []byte:
			bodyReader = bytes.NewReader(v)
		case string:
			bodyReader = bytes.NewReader([]byte(v))
		default:
			jsonBytes, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
			bodyReader = bytes.NewReader(jsonBytes)
		}
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Browser-like fetch metadata so cookie requests pass cross-origin checks
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return c.Client.Do(req)
}

// Get makes a GET request to the test server.
func (c *TestClient) Get(path string) (*http.Response, error) {
	return c.Request(http.MethodGet, path, nil)
}

// Post makes a POST request to the test server with a JSON body.
func (c *TestClient) Post(path string, body interface{}) (*http.Response, error) {
	return c.Request(http.MethodPost, path, body)
}

// Delete makes a DELETE request to the test server.
func (c *TestClient) Delete(path string) (*http.Response, error) {
	return c.Request(http.MethodDelete, path, nil)
}

// ParseJSON decodes the response body as JSON into v and closes the body.
func ParseJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("failed to decode response JSON: %v. Body: %s", err, string(body))
	}
}

// RequireStatus checks that the response has the expected status code.
// If not, it fails the test with the response body for debugging.
func RequireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(body))
	}
}
