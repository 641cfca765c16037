// Package connectivity maintains a single source of truth for "can we
// reach the server". Two inputs feed one two-state machine: hints from
// the embedding platform (ReportHint) and a periodic reachability probe.
// The probe is authoritative on conflict. Consumers observe state
// transitions only, never polling noise.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/grafana/holdfast/log"
)

// DefaultProbeInterval is how often the monitor probes the health
// endpoint, independent of platform hints.
const DefaultProbeInterval = 30 * time.Second

// probeTimeout bounds a single reachability probe so a hung connection
// cannot stall the loop.
const probeTimeout = 5 * time.Second

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -o ../mocks/prober.go . Prober

// Prober checks whether the server is reachable. A nil error means
// reachable; any error means not. Probe implementations must not panic.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor tracks online/offline state. Construct with NewMonitor, then
// call Start to run the probe loop.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   log.Logger

	mu             sync.RWMutex
	online         bool
	lastTransition time.Time
	subscribers    map[int]func(online bool)
	nextSub        int

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProbeInterval overrides the default 30s probe interval.
func WithProbeInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the monitor's logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithInitialState sets the state assumed before the first probe
// completes. The default is online, matching the optimistic behavior of
// platform connectivity APIs.
func WithInitialState(online bool) Option {
	return func(m *Monitor) {
		m.online = online
	}
}

// NewMonitor creates a monitor using the given prober.
func NewMonitor(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:      prober,
		interval:    DefaultProbeInterval,
		logger:      log.Noop{},
		online:      true,
		subscribers: make(map[int]func(bool)),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Start launches the probe loop. It probes once immediately, then every
// interval until ctx is cancelled or Close is called. Calling Start twice
// is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	go m.loop(ctx)
}

// Close stops the probe loop and waits for it to exit. Safe to call
// without a prior Start.
func (m *Monitor) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// probe reconciles the cached state against one reachability check.
// Probe failures are silent: they flip the state, nothing escapes.
func (m *Monitor) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := m.prober.Probe(ctx)
	if ctx.Err() == context.Canceled {
		return
	}

	if err != nil {
		m.logger.Debug("reachability probe failed", "error", err)
	}
	m.setState(err == nil)
}

// Online reports the current state. It never blocks on a probe.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// LastTransition returns when the state last changed. Zero if it never has.
func (m *Monitor) LastTransition() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTransition
}

// ReportHint feeds a platform online/offline signal into the state
// machine. Hints flip the state immediately; the next probe reconciles.
func (m *Monitor) ReportHint(online bool) {
	m.setState(online)
}

// Subscribe registers a listener invoked on every state transition with
// the new state. The returned function unsubscribes.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) setState(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}

	m.online = online
	m.lastTransition = time.Now()
	subs := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("connectivity restored")
	} else {
		m.logger.Warn("connectivity lost")
	}

	for _, fn := range subs {
		fn(online)
	}
}

// Compile-time check that HTTPProber implements Prober.
var _ Prober = (*HTTPProber)(nil)

// HTTPProber issues a HEAD request to a health endpoint. Any HTTP
// response, whatever the status, means the server was reached; only a
// transport failure counts as unreachable. The body is ignored.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a prober for the given health URL.
func NewHTTPProber(url string, client *http.Client) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProber{url: url, client: client}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return err
	}

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return nil
}
