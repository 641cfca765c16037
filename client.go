// Package holdfast is the resilience layer between an application and
// its API: callers issue requests without caring whether the network is
// currently reachable. Failed calls are classified, retried with
// backoff, queued for replay while offline, or answered from a durable
// local cache, and the caller always gets a response envelope back.
package holdfast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/grafana/holdfast/cache"
	"github.com/grafana/holdfast/classify"
	"github.com/grafana/holdfast/connectivity"
	"github.com/grafana/holdfast/log"
	"github.com/grafana/holdfast/notify"
	"github.com/grafana/holdfast/queue"
	"github.com/grafana/holdfast/storage"
	"github.com/grafana/holdfast/transport"
)

// DefaultHealthPath is the endpoint the connectivity monitor probes.
const DefaultHealthPath = "/health"

// defaultInlineRetries is the attempt budget for inline retries before a
// failure falls back to queueing or rejection.
const defaultInlineRetries = 3

// Client is the single entry point the rest of the application calls.
type Client interface {
	// Get performs a read. With a cache key, responses are written through
	// to the offline cache and served from it while offline.
	Get(ctx context.Context, path string, opts *RequestOptions) *Response
	// Post, Put, Patch and Delete mutate. They never serve a cached
	// substitute; only queueing and backoff apply.
	Post(ctx context.Context, path string, payload any, opts *RequestOptions) *Response
	Put(ctx context.Context, path string, payload any, opts *RequestOptions) *Response
	Patch(ctx context.Context, path string, payload any, opts *RequestOptions) *Response
	Delete(ctx context.Context, path string, opts *RequestOptions) *Response

	// Upload sends a file as multipart form data. Single attempt: uploads
	// are never re-enqueued.
	Upload(ctx context.Context, path string, opts UploadOptions) *Response
	// Download saves the response body to destPath. Single attempt;
	// failures are reported, not queued.
	Download(ctx context.Context, path, destPath string) error

	// Cache passthroughs.
	ClearCache()
	GetCachedData(key string) (json.RawMessage, bool)
	HasCachedData(key string) bool

	// Notifications exposes the stream a presentation layer renders.
	Notifications() *notify.Hub
	// Connectivity exposes the online/offline state machine, including
	// ReportHint for feeding platform signals.
	Connectivity() *connectivity.Monitor
	// Queue exposes the pending backlog and its completion stream.
	Queue() *queue.Queue

	// Close stops the connectivity monitor and releases timers.
	Close()
}

// client is the private implementation of the Client interface.
type client struct {
	transport  *transport.Client
	cache      *cache.Cache
	queue      *queue.Queue
	monitor    *connectivity.Monitor
	hub        *notify.Hub
	classifier *classify.Classifier
	logger     log.Logger

	queueEnabled  bool
	inlineRetries int

	unsubscribe func()
}

// config collects everything the options set before the pieces are wired.
type config struct {
	store         storage.Store
	logger        log.Logger
	httpClient    *http.Client
	timeout       time.Duration
	userAgent     string
	tokens        transport.TokenProvider
	refresh       transport.RefreshFunc
	healthPath    string
	probeInterval time.Duration
	queueEnabled  bool
	inlineRetries int
}

// New creates a Client for the given API base URL.
func New(baseURL string, options ...Option) (Client, error) {
	cfg := &config{
		store:         storage.NewMemory(),
		logger:        log.Noop{},
		healthPath:    DefaultHealthPath,
		queueEnabled:  true,
		inlineRetries: defaultInlineRetries,
	}
	for _, option := range options {
		if option == nil { // allow for easy optional options
			continue
		}
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	transportOpts := []transport.Option{transport.WithLogger(cfg.logger)}
	if cfg.httpClient != nil {
		transportOpts = append(transportOpts, transport.WithHTTPClient(cfg.httpClient))
	}
	if cfg.timeout > 0 {
		transportOpts = append(transportOpts, transport.WithTimeout(cfg.timeout))
	}
	if cfg.userAgent != "" {
		transportOpts = append(transportOpts, transport.WithUserAgent(cfg.userAgent))
	}
	if cfg.tokens != nil {
		transportOpts = append(transportOpts, transport.WithTokenAuth(cfg.tokens, cfg.refresh))
	}

	tc, err := transport.New(baseURL, transportOpts...)
	if err != nil {
		return nil, err
	}

	hub := notify.NewHub()
	classifier := classify.New(hub)

	monitorOpts := []connectivity.Option{connectivity.WithLogger(cfg.logger)}
	if cfg.probeInterval > 0 {
		monitorOpts = append(monitorOpts, connectivity.WithProbeInterval(cfg.probeInterval))
	}
	prober := connectivity.NewHTTPProber(joinURL(baseURL, cfg.healthPath), cfg.httpClient)
	monitor := connectivity.NewMonitor(prober, monitorOpts...)

	c := &client{
		transport:     tc,
		monitor:       monitor,
		hub:           hub,
		classifier:    classifier,
		logger:        cfg.logger,
		cache:         cache.New(cfg.store, cache.WithLogger(cfg.logger)),
		queueEnabled:  cfg.queueEnabled,
		inlineRetries: cfg.inlineRetries,
	}

	sender := queue.SenderFunc(func(ctx context.Context, req queue.Request) (*transport.Envelope, error) {
		return tc.Do(ctx, req.Method, req.URL, req.Payload, nil)
	})
	c.queue = queue.New(cfg.store, sender, c.quietOutcome,
		queue.WithLogger(cfg.logger),
		queue.WithOnlineCheck(monitor.Online),
		queue.WithTerminalHook(func(req queue.Request, out classify.Outcome) {
			// Replays classified quietly; the abandonment is the one loud
			// moment, with the same title and severity as the inline path.
			classifier.Publish(out)
		}))

	// Replaying the backlog on every offline→online transition is what
	// makes queued calls heal themselves.
	c.unsubscribe = monitor.Subscribe(func(online bool) {
		if online {
			go c.queue.Drain(context.Background())
		}
	})

	monitor.Start(context.Background())
	return c, nil
}

// joinURL appends path to base; base was already validated by the
// transport constructor.
func joinURL(base, path string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if len(path) == 0 || path[0] != '/' {
		path = "/" + path
	}
	return base + path
}

// outcomeFor maps any transport-path failure to the classifier's verdict.
func outcomeFor(clf *classify.Classifier, err error, attempt int) classify.Outcome {
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		return clf.FromStatus(statusErr.Code, statusErr.Message(), attempt)
	}
	return clf.FromTransport(err, attempt)
}

// quietOutcome classifies without emitting notifications; retries are
// silent and only terminal failures notify.
func (c *client) quietOutcome(err error, attempt int) classify.Outcome {
	return outcomeFor(c.classifier.Quiet(), err, attempt)
}

func (c *client) ClearCache() {
	c.cache.Clear()
}

func (c *client) GetCachedData(key string) (json.RawMessage, bool) {
	return c.cache.Get(key)
}

func (c *client) HasCachedData(key string) bool {
	return c.cache.Has(key)
}

func (c *client) Notifications() *notify.Hub {
	return c.hub
}

func (c *client) Connectivity() *connectivity.Monitor {
	return c.monitor
}

func (c *client) Queue() *queue.Queue {
	return c.queue
}

func (c *client) Close() {
	c.unsubscribe()
	c.monitor.Close()
	c.queue.Close()
	c.hub.Close()
}

// UploadOptions describes a multipart upload.
type UploadOptions struct {
	// Field is the form field name; defaults to "file".
	Field string
	// FileName is the name presented to the server.
	FileName string
	// File is the content source.
	File io.Reader
	// Size is the content length in bytes, or -1 if unknown. Used only
	// for progress reporting.
	Size int64
	// Fields are additional plain form fields.
	Fields map[string]string
	// Progress, if set, receives running byte counts.
	Progress transport.ProgressFunc
	// Silent suppresses the failure notification.
	Silent bool
}
