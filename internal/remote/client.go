// Package remote is the HTTP gateway to the retail API. Every request carries
// the configured client-impersonation headers and the run's device id.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"promo-code-engine/internal/cache"
	"promo-code-engine/internal/engine"
)

type Header struct {
	Name  string
	Value string
}

// Profile is the hot-swappable part of the client configuration.
type Profile struct {
	Headers      []Header
	DeviceHeader string
	WarmupPaths  []string
}

// StatusError is a non-2xx answer from the remote API.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

type Client struct {
	baseURL        string
	operationsPath string
	confirmPath    string
	profile        *cache.Snapshot[Profile]
	httpClient     *http.Client
}

func NewClient(baseURL, operationsPath, confirmPath string, profile *cache.Snapshot[Profile], timeout time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		operationsPath: operationsPath,
		confirmPath:    confirmPath,
		profile:        profile,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

var _ engine.Gateway = (*Client)(nil)

// Warmup GETs every configured warm-up path once.
func (c *Client) Warmup(ctx context.Context, auth engine.Auth) error {
	p, _ := c.profile.Load()
	var errs []error
	for _, path := range p.WarmupPaths {
		if _, _, err := c.do(ctx, http.MethodGet, c.baseURL+path, auth, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) FetchOperations(ctx context.Context, auth engine.Auth) ([]engine.Operation, error) {
	raw, _, err := c.do(ctx, http.MethodPost, c.baseURL+c.operationsPath, auth, auth)
	if err != nil {
		return nil, err
	}
	var ops []engine.Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	return ops, nil
}

// ConfirmChoice binds a coupon to a promotion variant. Only 200 is success.
func (c *Client) ConfirmChoice(ctx context.Context, auth engine.Auth, couponCode, promotionID string) (bool, error) {
	q := url.Values{}
	q.Set("couponCode", couponCode)
	q.Set("promotionId", promotionID)
	_, status, err := c.do(ctx, http.MethodPost, c.baseURL+c.confirmPath+"?"+q.Encode(), auth, auth)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

func (c *Client) do(ctx context.Context, method, target string, auth engine.Auth, payload any) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	c.applyHeaders(req, auth.DeviceID, payload != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: truncate(string(raw), 256)}
	}
	return raw, resp.StatusCode, nil
}

// applyHeaders writes header names verbatim (no canonicalization).
func (c *Client) applyHeaders(req *http.Request, deviceID string, hasBody bool) {
	p, _ := c.profile.Load()
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, "Host") {
			req.Host = h.Value
			continue
		}
		req.Header[h.Name] = []string{h.Value}
	}
	if p.DeviceHeader != "" && deviceID != "" {
		req.Header[p.DeviceHeader] = []string{deviceID}
	}
	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
