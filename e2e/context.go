// Package e2e drives a running buyer app in mock mode through its rider API.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext carries one scenario's HTTP state.
type TestContext struct {
	BaseURL     string
	BearerToken string
	AdminToken  string
	client      *http.Client

	lastStatus int
	lastBody   []byte
	saved      map[string]string
}

// NewTestContext targets baseURL.
func NewTestContext(baseURL, bearer, admin string) *TestContext {
	return &TestContext{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		BearerToken: bearer,
		AdminToken:  admin,
		client:      &http.Client{Timeout: 10 * time.Second},
		saved:       make(map[string]string),
	}
}

// Reset clears state between scenarios.
func (tc *TestContext) Reset() {
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.saved = make(map[string]string)
}

// POST sends body as JSON.
func (tc *TestContext) POST(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	return tc.do(http.MethodPost, path, bytes.NewReader(raw), nil)
}

// GET fetches path with optional extra headers.
func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) do(method, path string, body io.Reader, headers map[string]string) error {
	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.BearerToken)
	}
	if tc.AdminToken != "" {
		req.Header.Set("X-Admin-Token", tc.AdminToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

// GetLastStatus returns the status of the last response.
func (tc *TestContext) GetLastStatus() int { return tc.lastStatus }

// GetLastBody returns the raw last response.
func (tc *TestContext) GetLastBody() []byte { return tc.lastBody }

// GetResponseField resolves a dotted path such as "results.0.id" in the
// last response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var doc any
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	cur := doc
	for _, part := range strings.Split(field, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %q not found in response", field)
			}
			cur = v
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("index %q out of range in %q", part, field)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("field %q not found in response", field)
		}
	}
	return cur, nil
}

// Save remembers a value under name for later steps.
func (tc *TestContext) Save(name, value string) { tc.saved[name] = value }

// Saved returns a remembered value.
func (tc *TestContext) Saved(name string) string { return tc.saved[name] }

// Eventually polls check until it succeeds or timeout elapses.
func (tc *TestContext) Eventually(timeout time.Duration, check func() error) error {
	deadline := time.Now().Add(timeout)
	for {
		err := check()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(200 * time.Millisecond)
	}
}
