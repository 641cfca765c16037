// Package notify implements the notification stream consumed by a
// presentation layer. The hub holds the active set, fans out new
// notifications to subscribers, and removes auto-hiding entries after
// their deadline. Nothing here assumes how notifications are rendered.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity indicates how a notification should be presented.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
)

// Notification is a single user-facing message.
type Notification struct {
	ID          string        `json:"id"`
	Severity    Severity      `json:"severity"`
	Title       string        `json:"title"`
	Message     string        `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
	Dismissible bool      `json:"dismissible"`
	// AutoHide removes the notification from the active set after this
	// duration. Zero means the notification stays until dismissed.
	AutoHide time.Duration `json:"-"`
}

// MarshalJSON renders AutoHide in milliseconds, the unit a presentation
// layer works in; a raw time.Duration would serialize as nanoseconds.
func (n Notification) MarshalJSON() ([]byte, error) {
	type plain Notification
	return json.Marshal(struct {
		plain
		AutoHideMs int64 `json:"autoHideMs"`
	}{plain: plain(n), AutoHideMs: n.AutoHide.Milliseconds()})
}

// Hub is the process-wide notification sink. The zero value is not
// usable; construct with NewHub.
type Hub struct {
	mu          sync.Mutex
	active      []Notification
	subscribers map[int]func(Notification)
	nextSub     int
	timers      map[string]*time.Timer
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[int]func(Notification)),
		timers:      make(map[string]*time.Timer),
	}
}

// Publish adds a notification to the active set and fans it out to all
// subscribers. A missing ID is filled in. Returns the stored notification.
func (h *Hub) Publish(n Notification) Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	h.mu.Lock()
	h.active = append(h.active, n)
	if n.AutoHide > 0 {
		id := n.ID
		h.timers[id] = time.AfterFunc(n.AutoHide, func() {
			h.Dismiss(id)
		})
	}
	subs := make([]func(Notification), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}

	return n
}

// Error publishes an error-severity notification.
func (h *Hub) Error(title, message string) Notification {
	return h.Publish(Notification{Severity: SeverityError, Title: title, Message: message, Dismissible: true})
}

// Warning publishes a warning-severity notification that hides itself.
func (h *Hub) Warning(title, message string) Notification {
	return h.Publish(Notification{Severity: SeverityWarning, Title: title, Message: message, Dismissible: true, AutoHide: 5 * time.Second})
}

// Info publishes an info-severity notification that hides itself.
func (h *Hub) Info(title, message string) Notification {
	return h.Publish(Notification{Severity: SeverityInfo, Title: title, Message: message, Dismissible: true, AutoHide: 5 * time.Second})
}

// Success publishes a success-severity notification that hides itself.
func (h *Hub) Success(title, message string) Notification {
	return h.Publish(Notification{Severity: SeveritySuccess, Title: title, Message: message, Dismissible: true, AutoHide: 3 * time.Second})
}

// Dismiss removes a notification from the active set and cancels its
// auto-hide timer. Dismissing an unknown ID is a no-op.
func (h *Hub) Dismiss(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.timers[id]; ok {
		t.Stop()
		delete(h.timers, id)
	}

	for i, n := range h.active {
		if n.ID == id {
			h.active = append(h.active[:i], h.active[i+1:]...)
			return
		}
	}
}

// Active returns a snapshot of the notifications currently visible.
func (h *Hub) Active() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Notification, len(h.active))
	copy(out, h.active)
	return out
}

// Subscribe registers a listener for every subsequently published
// notification. The returned function unsubscribes.
func (h *Hub) Subscribe(fn func(Notification)) func() {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subscribers[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
	}
}

// Close cancels all pending auto-hide timers and clears the active set.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
	h.active = nil
}
