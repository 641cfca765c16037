package holdfast

import (
	"errors"
	"net/http"
	"time"

	"github.com/grafana/holdfast/log"
	"github.com/grafana/holdfast/storage"
	"github.com/grafana/holdfast/transport"
)

// Option is a function that configures a Client during creation.
type Option func(*config) error

// WithStorage sets the durable store backing the offline cache and the
// request queue. The default is an in-memory store, which gives up
// durability; pass storage.NewFile or storage.NewSQLite to survive
// restarts.
func WithStorage(store storage.Store) Option {
	return func(c *config) error {
		if store == nil {
			return errors.New("store cannot be nil")
		}
		c.store = store
		return nil
	}
}

// WithLogger configures a custom logger for all components.
// If not provided, a no-op logger will be used by default.
func WithLogger(logger log.Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client used for requests and
// reachability probes.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *config) error {
		if httpClient == nil {
			return errors.New("httpClient is nil")
		}
		c.httpClient = httpClient
		return nil
	}
}

// WithTimeout overrides the default 15s per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(agent string) Option {
	return func(c *config) error {
		c.userAgent = agent
		return nil
	}
}

// WithTokenAuth enables bearer authentication backed by the given token
// provider. refresh, if non-nil, is invoked (single-flight) when a
// request receives a 401.
func WithTokenAuth(tokens transport.TokenProvider, refresh transport.RefreshFunc) Option {
	return func(c *config) error {
		if tokens == nil {
			return errors.New("token provider cannot be nil")
		}
		c.tokens = tokens
		c.refresh = refresh
		return nil
	}
}

// WithHealthPath overrides the path probed for reachability.
// The default is "/health".
func WithHealthPath(path string) Option {
	return func(c *config) error {
		if path == "" {
			return errors.New("health path cannot be empty")
		}
		c.healthPath = path
		return nil
	}
}

// WithProbeInterval overrides the default 30s reachability probe interval.
func WithProbeInterval(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("probe interval must be positive")
		}
		c.probeInterval = d
		return nil
	}
}

// WithoutQueue disables offline queueing: retryable failures fail with a
// degraded response instead of being enqueued for replay.
func WithoutQueue() Option {
	return func(c *config) error {
		c.queueEnabled = false
		return nil
	}
}

// WithInlineRetries sets the attempt budget for inline retries (including
// the first attempt) before a failure is queued or rejected. Default 3.
func WithInlineRetries(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return errors.New("inline retries must be at least 1")
		}
		c.inlineRetries = n
		return nil
	}
}
