// Package transport implements the raw HTTP path shared by the facade
// and the request queue. Every call returns the server's JSON envelope;
// non-2xx responses surface as structured StatusError values so the
// classifier can work from plain data.
package transport

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

	"golang.org/x/sync/singleflight"

	"github.com/grafana/holdfast/log"
)

// DefaultTimeout bounds a single network attempt. After it elapses the
// attempt is treated as a network failure.
const DefaultTimeout = 15 * time.Second

// Envelope is the JSON contract every endpoint responds with.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// ErrorBody is the structured body a non-2xx response may carry.
type ErrorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// StatusError is an application-level failure: a response was reached but
// carried a non-2xx status.
type StatusError struct {
	Code int
	Body *ErrorBody
}

func (e *StatusError) Error() string {
	if e.Body != nil && e.Body.Message != "" {
		return fmt.Sprintf("got status code %d: %s", e.Code, e.Body.Message)
	}
	return fmt.Sprintf("got status code %d", e.Code)
}

// Message returns the server-provided message, if any.
func (e *StatusError) Message() string {
	if e.Body == nil {
		return ""
	}
	return e.Body.Message
}

// Client issues requests against a single base URL. Construct with New.
type Client struct {
	base      *url.URL
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    log.Logger

	tokens  TokenProvider
	refresh RefreshFunc
	flight  singleflight.Group
}

// Option is a function that configures a Client.
type Option func(*Client) error

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		if httpClient == nil {
			return errors.New("httpClient is nil")
		}
		c.client = httpClient
		return nil
	}
}

// WithTimeout overrides the default 15s per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(agent string) Option {
	return func(c *Client) error {
		c.userAgent = agent
		return nil
	}
}

// WithLogger sets the transport's logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// New creates a Client for the given base URL.
func New(baseURL string, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("only HTTP and HTTPS URLs are supported")
	}

	u.Path = strings.TrimRight(u.Path, "/")

	c := &Client{
		base:    u,
		client:  &http.Client{},
		timeout: DefaultTimeout,
		logger:  log.Noop{},
	}
	for _, option := range options {
		if option == nil { // allow for easy optional options
			continue
		}
		if err := option(c); err != nil {
			return nil, err
		}
	}

	if c.userAgent == "" {
		c.userAgent = "holdfast/0"
	}

	return c, nil
}

// resolve joins path onto the base URL, preserving any query string.
func (c *Client) resolve(path string) string {
	raw := ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, raw = path[:i], path[i+1:]
	}

	u := c.base.JoinPath(path)
	u.RawQuery = raw
	return u.String()
}

// addDefaultHeaders must not mutate the client: requests run
// concurrently over one shared instance.
func (c *Client) addDefaultHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		if token := c.tokens.GetToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// Do issues one request and decodes the response envelope. A 401 on a
// request that is not itself a refresh replay triggers exactly one token
// refresh (see auth.go) and a single replay with the new token.
func (c *Client) Do(ctx context.Context, method, path string, payload json.RawMessage, headers map[string]string) (*Envelope, error) {
	env, err := c.doOnce(ctx, method, path, payload, headers)

	var statusErr *StatusError
	if err != nil && errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized && c.canRefresh() {
		if refreshErr := c.refreshTokens(ctx); refreshErr != nil {
			return nil, err
		}
		return c.doOnce(ctx, method, path, payload, headers)
	}

	return env, err
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload json.RawMessage, headers map[string]string) (*Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	u := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addDefaultHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("http request", "method", method, "url", u)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Debug("http error response", "method", method, "url", u, "status", res.StatusCode)
		return nil, &StatusError{Code: res.StatusCode, Body: decodeErrorBody(raw)}
	}

	return decodeEnvelope(raw)
}

// decodeEnvelope parses a 2xx body into the envelope contract. An empty
// body (e.g. 204) counts as a bare success.
func decodeEnvelope(raw []byte) (*Envelope, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &Envelope{Success: true}, nil
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding response envelope: %w", err)
	}

	return &env, nil
}

// decodeErrorBody extracts the structured error body from a non-2xx
// response, tolerating both a bare body and one nested in an envelope.
func decodeErrorBody(raw []byte) *ErrorBody {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && (body.Code != "" || body.Message != "") {
		return &body
	}

	var env struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		return &ErrorBody{Message: env.Message}
	}

	return nil
}
