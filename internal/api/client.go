// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the mentor backend.
//
// All non-streaming endpoints reply with an envelope
//
//	{"ok": true, "data": {...}}
//	{"ok": false, "error": {"code": "...", "message": "..."}}
//
// and non-2xx replies wrap the failing envelope under "detail". The chat and
// audit endpoints reply with a line-framed event stream that callers decode
// with package stream.
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Configuration constants.
const (
	// DefaultBaseURL is the mini-app API root of a locally running backend.
	DefaultBaseURL = "http://127.0.0.1:8000/api/miniapp"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent identifies the client.
	DefaultUserAgent = "packmate/1.0"

	// MaxResponseSize limits JSON bodies (10MB).
	MaxResponseSize = 10 * 1024 * 1024

	// HeaderInitData carries the identity assertion on POST /auth.
	HeaderInitData = "X-Telegram-Init-Data"

	// HeaderRequestID tags every request for server-side correlation.
	HeaderRequestID = "X-Request-ID"
)

var (
	// sharedTransport pools connections across clients. Timeouts come from
	// the request context so the same transport serves streaming bodies.
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	sharedHTTPClient = &http.Client{Transport: sharedTransport}
)

// =============================================================================
// TOKEN SOURCE
// =============================================================================

// TokenSource supplies the bearer token for authenticated calls.
// ok is false when no session is held.
type TokenSource interface {
	Token() (token string, ok bool)
}

// StaticToken is a fixed TokenSource.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() (string, bool) {
	return string(s), s != ""
}

// =============================================================================
// CLIENT
// =============================================================================

// Config holds client settings.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string

	// RatePerSec limits outgoing requests. Zero disables limiting.
	RatePerSec float64
	Burst      int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		Timeout:    DefaultTimeout,
		UserAgent:  DefaultUserAgent,
		RatePerSec: 5,
		Burst:      5,
	}
}

// Client talks to the backend. The zero value is not usable; use New.
// A Client is safe for concurrent use.
type Client struct {
	baseURL   string
	timeout   time.Duration
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	tokens    TokenSource
	logger    *slog.Logger
}

// New creates a client without credentials. Use WithTokens to bind a session.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = sharedHTTPClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger.With("component", "api"),
	}
}

// WithTokens returns a copy of the client that attaches the bearer token
// from ts to every request. The copy shares the rate limiter.
func (c *Client) WithTokens(ts TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// Fingerprint returns a short non-reversible id for a secret, for logs.
func Fingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:4])
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderRequestID, uuid.NewString())

	if c.tokens != nil {
		if token, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// send waits for the limiter and performs req. Non-2xx replies are turned
// into *TransportError and the body is closed.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	start := time.Now()
	reqID := req.Header.Get(HeaderRequestID)
	c.logger.Debug("request", "method", req.Method, "path", req.URL.Path, "request_id", reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.logger.Debug("response", "status", resp.StatusCode, "path", req.URL.Path,
		"request_id", reqID, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := readBody(resp.Body)
		te := parseError(resp.StatusCode, body)
		c.logger.Info("request rejected", "path", req.URL.Path, "status", te.Status, "code", te.Code, "request_id", reqID)
		return nil, te
	}
	return resp, nil
}

// readBody reads at most MaxResponseSize bytes.
func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

type envelope[T any] struct {
	OK    bool       `json:"ok"`
	Data  T          `json:"data"`
	Error *ErrorBody `json:"error"`
}

// call performs a JSON request and decodes the envelope's data into T.
func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any, header http.Header) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := readBody(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope[T]
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !env.OK {
		te := &TransportError{Status: resp.StatusCode, Message: FallbackMessage}
		if env.Error != nil {
			te.Code = env.Error.Code
			if env.Error.Message != "" {
				te.Message = env.Error.Message
			}
		}
		return nil, te
	}
	return &env.Data, nil
}

// openStream performs a request whose body is an event stream. The caller
// owns the returned body. Cancelling ctx aborts the connection.
func (c *Client) openStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
