package holdfast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/grafana/holdfast/classify"
	"github.com/grafana/holdfast/retry"
	"github.com/grafana/holdfast/transport"
)

func (c *client) Get(ctx context.Context, path string, opts *RequestOptions) *Response {
	o := opts.normalize()

	// A fresh cached value short-circuits the network entirely; expired
	// entries already read as absent.
	if o.CacheKey != "" {
		if raw, ok := c.cache.Get(o.CacheKey); ok {
			return &Response{Success: true, Data: raw, FromCache: true}
		}
	}

	return c.do(ctx, http.MethodGet, path, nil, o, true)
}

func (c *client) Post(ctx context.Context, path string, payload any, opts *RequestOptions) *Response {
	return c.mutate(ctx, http.MethodPost, path, payload, opts)
}

func (c *client) Put(ctx context.Context, path string, payload any, opts *RequestOptions) *Response {
	return c.mutate(ctx, http.MethodPut, path, payload, opts)
}

func (c *client) Patch(ctx context.Context, path string, payload any, opts *RequestOptions) *Response {
	return c.mutate(ctx, http.MethodPatch, path, payload, opts)
}

func (c *client) Delete(ctx context.Context, path string, opts *RequestOptions) *Response {
	return c.do(ctx, http.MethodDelete, path, nil, opts.normalize(), false)
}

func (c *client) mutate(ctx context.Context, method, path string, payload any, opts *RequestOptions) *Response {
	o := opts.normalize()

	var body json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.logger.Error("payload not serializable", "method", method, "url", path, "error", err)
			return &Response{Success: false, Message: "request payload is not serializable"}
		}
		body = raw
	}

	return c.do(ctx, method, path, body, o, false)
}

// do runs one logical request: inline retries while reachable, then
// classification, then queueing or a degraded response. isRead gates the
// cache paths; mutations never serve a cached substitute.
func (c *client) do(ctx context.Context, method, path string, payload json.RawMessage, o *RequestOptions, isRead bool) *Response {
	online := c.monitor.Online()

	// Offline calls get a single attempt; the point of going to the
	// network at all is to catch a stale offline verdict, not to burn the
	// retry budget against a dead link.
	attempts := c.inlineRetries
	if !online {
		attempts = 1
	}

	rctx := retry.ToContext(ctx, retry.NewClassifiedRetrier(c.quietOutcome, attempts))
	env, err := retry.Do(rctx, func() (*transport.Envelope, error) {
		return c.transport.Do(ctx, method, path, payload, o.Headers)
	})
	if err == nil {
		if isRead && env.Success && o.CacheKey != "" {
			ttl := time.Duration(o.CacheExpirationMinutes) * time.Minute
			if storeErr := c.cache.Store(o.CacheKey, env.Data, ttl); storeErr != nil {
				c.logger.Warn("response not cached", "key", o.CacheKey, "error", storeErr)
			}
		}
		return &Response{Success: env.Success, Data: env.Data, Message: env.Message}
	}

	cause := err
	var exhausted *retry.MaxAttemptsError
	if errors.As(err, &exhausted) {
		cause = exhausted.Err
	}

	// One notification per terminal failure; retries already classified
	// quietly on the way here.
	clf := c.classifier
	if o.Silent {
		clf = clf.Quiet()
	}
	out := outcomeFor(clf, cause, 1)

	if c.shouldQueue(out, o, online) {
		h := c.queue.Enqueue(method, path, payload, o.MaxRetries)
		return &Response{Success: false, Message: out.Message, Queued: h}
	}

	return c.degraded(out, o, isRead)
}

// shouldQueue decides whether a failed request joins the replay backlog.
// Only retryable failures hit while offline qualify; a reachable server
// that keeps refusing is a terminal rejection, not a connectivity gap.
func (c *client) shouldQueue(out classify.Outcome, o *RequestOptions, online bool) bool {
	return out.Retryable && c.queueEnabled && !o.DisableQueue && !online
}

// degraded builds the substitute response for a terminally failed call:
// the explicit fallback if one was given, else the last cached value for
// reads, else an empty body.
func (c *client) degraded(out classify.Outcome, o *RequestOptions, isRead bool) *Response {
	resp := &Response{Success: false, Message: out.Message}

	if o.Fallback != nil {
		raw, err := json.Marshal(o.Fallback)
		if err != nil {
			c.logger.Warn("fallback not serializable", "error", err)
			return resp
		}
		resp.Data = raw
		return resp
	}

	if isRead && o.CacheKey != "" {
		if raw, ok := c.cache.Get(o.CacheKey); ok {
			resp.Data = raw
			resp.FromCache = true
		}
	}
	return resp
}
