// Package client implements the JSON/HTTP client the plugin uses to talk to
// the data-management platform: oauth token handling, retried requests, and
// typed helpers for the job and metadata endpoints.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/qiita-spots/qtp-biom/internal/config"
	"github.com/qiita-spots/qtp-biom/internal/monitoring"
)

const (
	// maxAttempts bounds how often a request is retried before giving up.
	maxAttempts = 3

	// retryDelay is the base of the linear backoff between attempts.
	retryDelay = 500 * time.Millisecond
)

// Client talks to one platform instance on behalf of one plugin. It is safe
// for concurrent use; the job runner shares one Client between the heartbeat
// goroutine and the running command.
type Client struct {
	baseURL string
	hc      *http.Client

	clientID     string
	clientSecret string

	mu    sync.Mutex // guards token
	token string
}

// New builds a Client from the connection config. When the config names a
// server certificate the client trusts exactly that certificate, which is how
// self-signed platform deployments are reached.
func New(cfg *config.Config) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ServerCert != "" {
		pem, err := os.ReadFile(cfg.ServerCert)
		if err != nil {
			return nil, fmt.Errorf("failed to read server certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.ServerCert)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.ServerURL, "/"),
		hc:           &http.Client{Transport: transport, Timeout: 30 * time.Second},
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}, nil
}

type authResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Authenticate exchanges the client credentials for a bearer token. It is
// called automatically by Get/Post when no token is held yet, and again when
// the platform reports the token as expired.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

// authenticateLocked performs the credential exchange. c.mu must be held, so
// concurrent requests never race on the token and a renewal runs once.
func (c *Client) authenticateLocked(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"client"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/qiita_db/authenticate/", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build authenticate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("authenticate request failed: %w", err)
	}
	defer resp.Body.Close()

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("failed to decode authenticate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || ar.AccessToken == "" {
		if ar.ErrorDescription != "" {
			return fmt.Errorf("authentication rejected: %s", ar.ErrorDescription)
		}
		return fmt.Errorf("authentication failed with status %d", resp.StatusCode)
	}
	c.token = ar.AccessToken
	return nil
}

// bearer returns the current token, exchanging credentials first when none is
// held yet.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

// renew replaces the token a request just failed with. When a concurrent
// request already renewed it the exchange is skipped and the caller retries
// with the fresh token.
func (c *Client) renew(ctx context.Context, used string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != used {
		return nil
	}
	return c.authenticateLocked(ctx)
}

// do issues one request with retries. Transport errors and 5xx responses are
// retried with linear backoff; an expired-token response triggers a fresh
// token exchange before the retry. A non-nil out is filled from the response
// body on success.
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * retryDelay):
			}
		}

		token, err := c.bearer(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build request for %s: %w", path, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request %s %s failed: %w", method, path, err)
			monitoring.Logf("retrying %s %s after error: %v", method, path, err)
			continue
		}

		payload, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response for %s: %w", path, readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil && len(payload) > 0 {
				if err := json.Unmarshal(payload, out); err != nil {
					return fmt.Errorf("failed to decode response for %s: %w", path, err)
				}
			}
			return nil
		case tokenExpired(resp.StatusCode, payload):
			monitoring.Logf("token expired, re-authenticating")
			if err := c.renew(ctx, token); err != nil {
				return err
			}
			lastErr = fmt.Errorf("token expired for %s %s", method, path)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
			monitoring.Logf("retrying %s %s after status %d", method, path, resp.StatusCode)
		default:
			// 4xx other than an expired token will not improve on retry.
			return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
		}
	}
	return fmt.Errorf("giving up on %s %s after %d attempts: %w", method, path, maxAttempts, lastErr)
}

func tokenExpired(status int, payload []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusUnauthorized {
		return false
	}
	var ar authResponse
	if err := json.Unmarshal(payload, &ar); err != nil {
		return false
	}
	return ar.Error == "invalid_grant" || strings.Contains(ar.ErrorDescription, "token has timed out")
}

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

// Post issues a POST with a JSON body and decodes the response into out.
// Either body or out may be nil.
func (c *Client) Post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body for %s: %w", path, err)
		}
	}
	return c.do(ctx, http.MethodPost, path, payload, "application/json", out)
}
