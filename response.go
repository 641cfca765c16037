package holdfast

import (
	"context"
	"encoding/json"

	"github.com/grafana/holdfast/queue"
)

// Response is what every facade call returns: the server envelope on
// success, or a degraded substitute carrying the classifier's message
// when the live call failed.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`

	// FromCache is true when Data was served from the offline cache
	// rather than the network.
	FromCache bool `json:"-"`

	// Queued is non-nil when the call could not complete and was enqueued
	// for replay. The response itself has Success false; the handle
	// settles when the replay terminally succeeds or is abandoned.
	Queued *queue.Handle `json:"-"`
}

// DecodeInto unmarshals the response data into dest.
func (r *Response) DecodeInto(dest any) error {
	return json.Unmarshal(r.Data, dest)
}

// Settle waits for a queued response to reach its terminal result and
// returns it as a plain Response. For responses that were not queued it
// returns the receiver unchanged.
func (r *Response) Settle(ctx context.Context) *Response {
	if r.Queued == nil {
		return r
	}

	env, err := r.Queued.Wait(ctx)
	if err != nil {
		return &Response{Success: false, Message: err.Error()}
	}

	return &Response{Success: env.Success, Data: env.Data, Message: env.Message}
}

// RequestOptions tune a single facade call. A nil *RequestOptions is
// valid and means all defaults.
type RequestOptions struct {
	// CacheKey enables write-through caching for reads and cache
	// fallbacks on failure.
	CacheKey string
	// CacheExpirationMinutes bounds the cached entry's life. Zero means
	// no expiry.
	CacheExpirationMinutes int
	// Fallback is returned as the degraded response's data when the call
	// terminally fails. It takes precedence over the cached value.
	Fallback any
	// MaxRetries bounds the total attempts of a queued request. Default 3.
	MaxRetries int
	// Silent suppresses failure notifications for this call.
	Silent bool
	// DisableQueue turns off offline queueing for this call.
	DisableQueue bool
	// Headers are added to the request.
	Headers map[string]string
}

func (o *RequestOptions) normalize() *RequestOptions {
	out := &RequestOptions{}
	if o != nil {
		*out = *o
	}
	if out.MaxRetries < 1 {
		out.MaxRetries = 3
	}
	return out
}
