// Package queue holds requests that could not complete immediately and
// replays them in enqueue order once connectivity allows. Request
// descriptors survive a restart through durable storage; the in-process
// completion handles do not, so results for restored entries are only
// observable on the completion stream (see SubscribeCompletions).
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/grafana/holdfast/classify"
	"github.com/grafana/holdfast/log"
	"github.com/grafana/holdfast/storage"
	"github.com/grafana/holdfast/transport"
)

// Slot is the durable-storage slot holding the serialized backlog.
const Slot = "holdfast-queue"

// Request is the persisted descriptor of one pending call.
type Request struct {
	ID         string          `json:"id"`
	Method     string          `json:"method"`
	URL        string          `json:"url"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
}

// Completion is published on the completion stream when a queued request
// terminally succeeds or is abandoned.
type Completion struct {
	Request  Request
	Envelope *transport.Envelope
	Err      error
}

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -o ../mocks/sender.go . Sender

// Sender replays one queued request over the live transport path.
type Sender interface {
	Send(ctx context.Context, req Request) (*transport.Envelope, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, req Request) (*transport.Envelope, error)

func (f SenderFunc) Send(ctx context.Context, req Request) (*transport.Envelope, error) {
	return f(ctx, req)
}

// Queue is the persisted retry queue. Construct with New.
type Queue struct {
	store      storage.Store
	sender     Sender
	classifyFn func(err error, attempt int) classify.Outcome
	logger     log.Logger
	online     func() bool
	onTerminal func(req Request, out classify.Outcome)

	mu          sync.Mutex
	pending     []Request
	handles     map[string]*Handle
	subscribers map[int]func(Completion)
	nextSub     int
	retryTimer  *time.Timer
	closed      bool

	// draining enforces the one-drain-at-a-time invariant: a drain
	// triggered while another is running is a no-op, which prevents
	// duplicate dispatch of the same logical request.
	draining atomic.Bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue's logger.
func WithLogger(logger log.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithOnlineCheck supplies the connectivity predicate consulted when an
// enqueue should trigger an immediate drain. Without it the queue only
// drains when Drain is called explicitly.
func WithOnlineCheck(online func() bool) Option {
	return func(q *Queue) {
		q.online = online
	}
}

// WithTerminalHook registers a callback invoked once per abandoned
// request, with the outcome of its final attempt. The facade uses it to
// surface exactly one notification per exhausted entry.
func WithTerminalHook(fn func(req Request, out classify.Outcome)) Option {
	return func(q *Queue) {
		q.onTerminal = fn
	}
}

// New creates a queue that replays through sender and judges failures
// with classifyFn (which must not emit notifications; retries are
// silent). Descriptors persisted by a previous process are loaded; a
// corrupt blob means an empty backlog.
func New(store storage.Store, sender Sender, classifyFn func(err error, attempt int) classify.Outcome, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		sender:      sender,
		classifyFn:  classifyFn,
		logger:      log.Noop{},
		online:      func() bool { return false },
		handles:     make(map[string]*Handle),
		subscribers: make(map[int]func(Completion)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}

	q.load()
	return q
}

func (q *Queue) load() {
	data, err := q.store.Read(Slot)
	if err != nil {
		if err != storage.ErrSlotNotFound {
			q.logger.Warn("queue blob unreadable, starting empty", "error", err)
		}
		return
	}

	var pending []Request
	if err := json.Unmarshal(data, &pending); err != nil {
		q.logger.Warn("queue blob corrupt, starting empty", "error", err)
		return
	}

	q.pending = pending
	if len(pending) > 0 {
		q.logger.Info("restored queued requests", "count", len(pending))
	}
}

// persist writes the backlog. Callers hold q.mu.
func (q *Queue) persist() {
	data, err := json.Marshal(q.pending)
	if err != nil {
		q.logger.Error("queue serialization failed", "error", err)
		return
	}

	if err := q.store.Write(Slot, data); err != nil {
		q.logger.Warn("queue flush failed", "error", err)
	}
}

// Enqueue appends a request to the backlog and returns a handle that
// settles when the request terminally succeeds or is abandoned. If the
// queue believes it is online, a drain starts immediately.
func (q *Queue) Enqueue(method, url string, payload json.RawMessage, maxRetries int) *Handle {
	if maxRetries < 1 {
		maxRetries = 1
	}

	req := Request{
		ID:         uuid.NewString(),
		Method:     method,
		URL:        url,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		MaxRetries: maxRetries,
	}
	h := newHandle(req.ID)

	q.mu.Lock()
	q.pending = append(q.pending, req)
	q.handles[req.ID] = h
	q.persist()
	q.mu.Unlock()

	q.logger.Debug("request queued", "id", req.ID, "method", method, "url", url)

	if q.online() {
		go q.Drain(context.Background())
	}

	return h
}

// Len returns the number of requests currently in the backlog.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a snapshot of the backlog in drain order.
func (q *Queue) Pending() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Request, len(q.pending))
	copy(out, q.pending)
	return out
}

// SubscribeCompletions registers a listener for terminal results,
// including those of requests restored after a restart. The returned
// function unsubscribes.
func (q *Queue) SubscribeCompletions(fn func(Completion)) func() {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subscribers[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.subscribers, id)
		q.mu.Unlock()
	}
}

// Drain replays the current backlog once, in enqueue order. Entries that
// fail but remain retryable under their budget are re-appended at the
// tail for a later pass; the rest settle. A drain that finds another in
// progress returns immediately.
func (q *Queue) Drain(ctx context.Context) {
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	snapshot := q.pending
	q.pending = nil
	q.persist()
	q.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}
	q.logger.Info("draining queued requests", "count", len(snapshot))

	requeued := 0
	var nextDelay time.Duration
	for _, req := range snapshot {
		if ctx.Err() != nil {
			// Put the remainder back untouched; a later drain resumes.
			q.requeue(req)
			requeued++
			continue
		}

		env, err := q.sender.Send(ctx, req)
		if err == nil {
			// Silent success: settle the handle, publish the completion,
			// no notification.
			q.settle(req, env, nil)
			continue
		}

		attempt := req.RetryCount + 1
		out := q.classifyFn(err, attempt)
		if out.Retryable && attempt < req.MaxRetries {
			req.RetryCount = attempt
			q.requeue(req)
			requeued++
			if out.Backoff > nextDelay {
				nextDelay = out.Backoff
			}
			continue
		}

		if q.onTerminal != nil {
			q.onTerminal(req, out)
		}
		q.settle(req, nil, err)
	}

	// Entries still under budget wait for the next trigger; if we are
	// online, schedule one after the classifier's backoff so they do not
	// sit until the next connectivity flap.
	if requeued > 0 && q.online() {
		q.mu.Lock()
		if !q.closed {
			q.retryTimer = time.AfterFunc(nextDelay, func() { q.Drain(context.Background()) })
		}
		q.mu.Unlock()
	}
}

// Close stops any scheduled follow-up drain. The backlog stays persisted
// for the next process; in-flight handles never settle after Close.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
}

func (q *Queue) requeue(req Request) {
	q.mu.Lock()
	q.pending = append(q.pending, req)
	q.persist()
	q.mu.Unlock()
}

func (q *Queue) settle(req Request, env *transport.Envelope, err error) {
	q.mu.Lock()
	h := q.handles[req.ID]
	delete(q.handles, req.ID)
	subs := make([]func(Completion), 0, len(q.subscribers))
	for _, fn := range q.subscribers {
		subs = append(subs, fn)
	}
	q.mu.Unlock()

	if h != nil {
		h.settle(env, err)
	}

	c := Completion{Request: req, Envelope: env, Err: err}
	for _, fn := range subs {
		fn(c)
	}

	if err != nil {
		q.logger.Warn("queued request abandoned", "id", req.ID, "url", req.URL, "attempts", req.RetryCount+1, "error", err)
	} else {
		q.logger.Debug("queued request completed", "id", req.ID, "url", req.URL)
	}
}

// Handle is the promise-like result of an enqueued request. It settles
// exactly once.
type Handle struct {
	id   string
	done chan struct{}

	mu  sync.Mutex
	env *transport.Envelope
	err error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// ID returns the queued request's identifier, matching the Completion
// stream key.
func (h *Handle) ID() string { return h.id }

// Done is closed when the request terminally succeeds or is abandoned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle settles or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (*transport.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.env, h.err
}

func (h *Handle) settle(env *transport.Envelope, err error) {
	h.mu.Lock()
	h.env = env
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
