// Package captcha is the boundary to the external challenge solver. It only
// fetches a solved token; solving happens elsewhere.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrEmptyToken = errors.New("captcha solver returned an empty token")

// Resolver yields a one-time solved-challenge token. It may take seconds.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

type ResolverFunc func(ctx context.Context) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context) (string, error) { return f(ctx) }

type solveRequest struct {
	APIKey  string `json:"key,omitempty"`
	SiteKey string `json:"sitekey,omitempty"`
}

type solveResponse struct {
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

// HTTPResolver asks a solver service for a token with a single POST.
type HTTPResolver struct {
	endpoint   string
	apiKey     string
	siteKey    string
	httpClient *http.Client
}

func NewHTTPResolver(endpoint, apiKey, siteKey string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		endpoint:   endpoint,
		apiKey:     apiKey,
		siteKey:    siteKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context) (string, error) {
	body, err := json.Marshal(solveRequest{APIKey: r.apiKey, SiteKey: r.siteKey})
	if err != nil {
		return "", fmt.Errorf("marshal solve request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build solve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call captcha solver: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read solve response: %w", err)
	}
	var out solveResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return "", fmt.Errorf("captcha solver error (%d): %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("captcha solver returned status %d", resp.StatusCode)
	}
	if out.Token == "" {
		return "", ErrEmptyToken
	}
	return out.Token, nil
}
