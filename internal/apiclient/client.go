// Package apiclient implements the REST request client for the sync
// layer: auth header attachment, retry with exponential backoff,
// deduplication of concurrent identical GETs, TTL caching of GET
// responses, and a uniform success/error result shape.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hearthhub/hearthhub/internal/domain"
	"github.com/hearthhub/hearthhub/internal/metrics"
)

// TokenProvider supplies and refreshes the auth token. An empty token
// means no authenticated session: requests fail closed.
type TokenProvider interface {
	// GetToken returns the current access token, or "" when absent.
	GetToken() string
	// RefreshToken attempts to refresh the access token. A nil return
	// means GetToken will yield a fresh token.
	RefreshToken(ctx context.Context) error
}

// Options tunes a single request.
type Options struct {
	// Params are query parameters, also part of the dedup/cache key.
	Params map[string]string
	// SkipAuth omits the Authorization header and the fail-closed check.
	SkipAuth bool
	// SkipCache bypasses the GET cache and dedup map.
	SkipCache bool
	// Headers are extra request headers.
	Headers map[string]string
}

// Response is the decoded server envelope plus transport detail.
type Response struct {
	Status  int
	Body    []byte
	Data    json.RawMessage
	Message string
	Meta    *domain.ListMeta
}

// Config holds client construction parameters.
type Config struct {
	// BaseURL is the server root, e.g. "https://api.example.com".
	BaseURL string
	// Tokens supplies auth tokens. Required unless every request skips auth.
	Tokens TokenProvider
	// HTTPClient overrides the transport. Timeout applies when unset.
	HTTPClient *http.Client
	// Timeout is the per-request client-side timeout. Default 15s.
	Timeout time.Duration
	// Retry configures transient-failure retries.
	Retry RetryConfig
	// CacheTTL is how long GET responses stay fresh. Default 5 minutes.
	CacheTTL time.Duration
	// CacheSize caps the number of cached GET responses. Default 256.
	CacheSize int
	// RateLimit bounds outbound requests per second. Zero disables.
	RateLimit rate.Limit
	// RateBurst is the limiter burst size. Default 10 when limited.
	RateBurst int
	// Logger receives request logs.
	Logger zerolog.Logger
	// Metrics receives instrumentation. Optional.
	Metrics *metrics.Metrics
}

// Client issues REST calls against the server. A single Client is shared
// process-wide; its cache and dedup map may be used by every domain
// store concurrently.
type Client struct {
	baseURL string
	tokens  TokenProvider
	http    *http.Client
	retry   RetryConfig
	limiter *rate.Limiter
	cache   *responseCache
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]*inflightCall
	closed   bool
}

// inflightCall is a GET in progress; joiners wait on done and share the
// leader's result.
type inflightCall struct {
	done chan struct{}
	resp *Response
	err  error
}

// New creates a client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 256
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst == 0 {
			burst = 10
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:   cfg.Tokens,
		http:     httpClient,
		retry:    cfg.Retry,
		limiter:  limiter,
		cache:    newResponseCache(cfg.CacheTTL, cfg.CacheSize),
		log:      cfg.Logger.With().Str("component", "apiclient").Logger(),
		metrics:  cfg.Metrics,
		inflight: make(map[string]*inflightCall),
	}, nil
}

// Close disposes the client: the cache and dedup map are cleared and
// subsequent requests fail closed.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.inflight = make(map[string]*inflightCall)
	c.mu.Unlock()
	c.cache.invalidate("")
}

// Invalidate drops cached GET responses whose path starts with prefix.
func (c *Client) Invalidate(pathPrefix string) {
	c.cache.invalidate("GET " + pathPrefix)
}

// Request issues a REST call and decodes the server envelope. GET
// requests are deduplicated and cached; transient failures are retried
// with exponential backoff; a 401 triggers one token refresh and replay.
func (c *Client) Request(ctx context.Context, method, path string, body any, opts *Options) (*Response, error) {
	if opts == nil {
		opts = &Options{}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.NewError(domain.CodeUnauthorized, "client is closed")
	}
	c.mu.Unlock()

	// Fail closed without a session.
	if !opts.SkipAuth && (c.tokens == nil || c.tokens.GetToken() == "") {
		return nil, domain.NewError(domain.CodeUnauthorized, "no active session")
	}

	if method != http.MethodGet || opts.SkipCache {
		resp, err := c.doWithRetry(ctx, method, path, body, opts)
		if err == nil && method != http.MethodGet {
			// A successful mutation makes cached reads of the whole
			// resource stale, item reads and collection lists alike.
			c.Invalidate(collectionRoot(path))
		}
		return resp, err
	}

	key := requestKey(method, path, opts.Params)
	if cached, ok := c.cache.get(key); ok {
		c.metrics.CacheHit()
		return decodeResponse(http.StatusOK, cached)
	}
	c.metrics.CacheMiss()

	// Join an identical in-flight GET instead of issuing a second call.
	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		c.metrics.DedupShare()
		select {
		case <-call.done:
			return call.resp, call.err
		case <-ctx.Done():
			return nil, domain.NewError(domain.CodeNetwork, ctx.Err().Error())
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	call.resp, call.err = c.doWithRetry(ctx, method, path, body, opts)
	if call.err == nil {
		c.cache.put(key, call.resp.Body)
	}

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)

	return call.resp, call.err
}

// doWithRetry runs the request attempt loop: rate limit, send, refresh
// on 401 once, retry transient failures with backoff.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body any, opts *Options) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, domain.NewErrorf(domain.CodeValidation, "encode request body: %v", err)
		}
	}

	reqID := uuid.NewString()
	log := c.log.With().Str("request_id", reqID).Str("method", method).Str("path", path).Logger()

	refreshed := false
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.Retry()
			delay := c.retry.backoff(attempt)
			log.Debug().Int("attempt", attempt).Dur("backoff", delay).Msg("retrying request")
			select {
			case <-ctx.Done():
				return nil, domain.NewError(domain.CodeNetwork, ctx.Err().Error())
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, domain.NewError(domain.CodeNetwork, err.Error())
			}
		}

		status, respBody, err := c.send(ctx, method, path, payload, opts, reqID)
		if err != nil {
			lastErr = domain.NewErrorf(domain.CodeNetwork, "request failed: %v", err)
			if retryableError(ctx, err) {
				continue
			}
			c.metrics.Request(method, "error")
			return nil, lastErr
		}

		if status == http.StatusUnauthorized && !opts.SkipAuth && !refreshed && c.tokens != nil {
			// Refresh once, then replay the original request. The replay
			// does not consume a retry attempt.
			if rerr := c.tokens.RefreshToken(ctx); rerr != nil {
				c.metrics.Request(method, "unauthorized")
				return nil, domain.NewError(domain.CodeUnauthorized, "token refresh failed")
			}
			refreshed = true
			attempt--
			continue
		}

		if c.retry.retryableStatus(status) {
			lastErr = errorFromStatus(status, respBody)
			continue
		}

		if status >= 400 {
			c.metrics.Request(method, "error")
			return nil, errorFromStatus(status, respBody)
		}

		c.metrics.Request(method, "ok")
		return decodeResponse(status, respBody)
	}

	c.metrics.Request(method, "exhausted")
	log.Warn().Err(lastErr).Msg("request retries exhausted")
	return nil, lastErr
}

// collectionRoot trims a mutated path to its resource root, so that
// "/api/tasks/123" invalidates cached "/api/tasks" lists as well as the
// item itself.
func collectionRoot(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) >= 2 {
		return "/" + parts[0] + "/" + parts[1]
	}
	return path
}

// send performs one HTTP round-trip.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, opts *Options, reqID string) (int, []byte, error) {
	reqURL := c.baseURL + path
	if len(opts.Params) > 0 {
		values := url.Values{}
		for k, v := range opts.Params {
			values.Set(k, v)
		}
		reqURL += "?" + values.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !opts.SkipAuth && c.tokens != nil {
		if token := c.tokens.GetToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// =============================================================================
// Envelope decoding
// =============================================================================

// envelope mirrors the server response shape: {data, message?, meta?}
// on success, {error: {code, message, details?}} on failure.
type envelope struct {
	Data    json.RawMessage  `json:"data"`
	Message string           `json:"message,omitempty"`
	Meta    *domain.ListMeta `json:"meta,omitempty"`
	Error   *domain.Error    `json:"error,omitempty"`
}

func decodeResponse(status int, body []byte) (*Response, error) {
	var env envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, domain.NewErrorf(domain.CodeUnknown, "malformed response: %v", err)
		}
	}
	if env.Error != nil {
		return nil, env.Error
	}
	return &Response{
		Status:  status,
		Body:    body,
		Data:    env.Data,
		Message: env.Message,
		Meta:    env.Meta,
	}, nil
}

// errorFromStatus maps an HTTP status to the error taxonomy, preferring
// the server's own error envelope when it parses.
func errorFromStatus(status int, body []byte) error {
	var env envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Code != "" {
			return env.Error
		}
	}
	code := domain.CodeUnknown
	switch {
	case status == http.StatusBadRequest:
		code = domain.CodeValidation
	case status == http.StatusUnauthorized:
		code = domain.CodeUnauthorized
	case status == http.StatusForbidden:
		code = domain.CodeForbidden
	case status == http.StatusNotFound:
		code = domain.CodeNotFound
	case status == http.StatusConflict:
		code = domain.CodeConflict
	case status >= 500:
		code = domain.CodeServer
	}
	return domain.NewErrorf(code, "server returned status %d", status)
}

// =============================================================================
// Typed helpers
// =============================================================================

// Get issues a GET and decodes the envelope data into T.
func Get[T any](ctx context.Context, c *Client, path string, params map[string]string) (T, *domain.ListMeta, error) {
	var out T
	resp, err := c.Request(ctx, http.MethodGet, path, nil, &Options{Params: params})
	if err != nil {
		return out, nil, err
	}
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &out); err != nil {
			return out, nil, domain.NewErrorf(domain.CodeUnknown, "decode response data: %v", err)
		}
	}
	return out, resp.Meta, nil
}

// Post issues a POST and decodes the envelope data into T.
func Post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return mutate[T](ctx, c, http.MethodPost, path, body)
}

// Put issues a PUT and decodes the envelope data into T.
func Put[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return mutate[T](ctx, c, http.MethodPut, path, body)
}

// Patch issues a PATCH and decodes the envelope data into T.
func Patch[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return mutate[T](ctx, c, http.MethodPatch, path, body)
}

// Delete issues a DELETE, discarding any response data.
func Delete(ctx context.Context, c *Client, path string) error {
	_, err := c.Request(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// DeleteAs issues a DELETE and decodes the envelope data into T, for
// endpoints that return the updated parent resource.
func DeleteAs[T any](ctx context.Context, c *Client, path string) (T, error) {
	return mutate[T](ctx, c, http.MethodDelete, path, nil)
}

func mutate[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var out T
	resp, err := c.Request(ctx, method, path, body, nil)
	if err != nil {
		return out, err
	}
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &out); err != nil {
			return out, domain.NewErrorf(domain.CodeUnknown, "decode response data: %v", err)
		}
	}
	return out, nil
}
