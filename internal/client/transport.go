package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const csrfHeader = "X-CSRF-Token"

// HTTPTransport talks to the /calendar endpoints. Give it an http.Client with a
// cookie jar when authenticating by session cookie.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	// Header is added to every request, for example a trusted identity header in tests or tools.
	Header http.Header

	mu   sync.Mutex
	csrf string
}

func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client, Header: http.Header{}}
}

func (t *HTTPTransport) Load(ctx context.Context) (Snapshot, error) {
	return t.do(ctx, http.MethodGet, "/calendar", nil)
}

// Sync asks the server to pull from the remote calendar and returns the resulting document.
func (t *HTTPTransport) Sync(ctx context.Context) (Snapshot, error) {
	return t.do(ctx, http.MethodPost, "/calendar/sync", nil)
}

func (t *HTTPTransport) Save(ctx context.Context, snap Snapshot) (Snapshot, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode calendar: %w", err)
	}
	return t.do(ctx, http.MethodPut, "/calendar", body)
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body []byte) (Snapshot, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, rd)
	if err != nil {
		return Snapshot{}, err
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	t.mu.Lock()
	if t.csrf != "" {
		req.Header.Set(csrfHeader, t.csrf)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(csrfHeader); token != "" {
		t.mu.Lock()
		t.csrf = token
		t.mu.Unlock()
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Snapshot{}, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode calendar: %w", err)
	}
	return snap, nil
}
