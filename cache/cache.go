// Package cache implements the offline cache: a durable key→JSON store
// with per-entry expiration. It serves stale-but-useful data while
// offline and acts as the fallback when a live call fails. An entry past
// its expiry is indistinguishable from an absent one.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/grafana/holdfast/log"
	"github.com/grafana/holdfast/storage"
)

// Slot is the durable-storage slot holding the serialized cache.
const Slot = "holdfast-cache"

type entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

func (e entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Cache is the offline cache. Construct with New; the zero value is not
// usable.
type Cache struct {
	store  storage.Store
	logger log.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache's logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock substitutes the time source, letting tests cross TTL
// boundaries without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a cache backed by store. Entries persisted by a previous
// process are loaded and already-expired ones swept. A corrupt or
// unreadable blob is treated as an empty cache, never an error.
func New(store storage.Store, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		logger:  log.Noop{},
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.load()
	return c
}

func (c *Cache) load() {
	data, err := c.store.Read(Slot)
	if err != nil {
		if err != storage.ErrSlotNotFound {
			c.logger.Warn("cache blob unreadable, starting empty", "error", err)
		}
		return
	}

	var loaded map[string]entry
	if err := json.Unmarshal(data, &loaded); err != nil {
		c.logger.Warn("cache blob corrupt, starting empty", "error", err)
		return
	}

	now := c.now()
	swept := 0
	for key, e := range loaded {
		if e.expired(now) {
			swept++
			continue
		}
		c.entries[key] = e
	}

	if swept > 0 {
		c.flush()
	}
	c.logger.Debug("cache loaded", "entries", len(c.entries), "swept", swept)
}

// flush writes the full entry set to durable storage. Callers hold c.mu
// or are still single-threaded in New. Persistence failures degrade
// durability, not correctness, so they are logged and swallowed.
func (c *Cache) flush() {
	data, err := json.Marshal(c.entries)
	if err != nil {
		c.logger.Error("cache serialization failed", "error", err)
		return
	}

	if err := c.store.Write(Slot, data); err != nil {
		c.logger.Warn("cache flush failed", "error", err)
	}
}

// Store writes value under key, overwriting any existing entry. A ttl of
// zero means the entry never expires. Returns an error only if value is
// not JSON-serializable.
func (c *Cache) Store(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("value for key %q is not JSON-serializable: %w", key, err)
	}

	now := c.now()
	e := entry{Key: key, Value: raw, StoredAt: now}
	if ttl > 0 {
		expires := now.Add(ttl)
		e.ExpiresAt = &expires
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	c.flush()
	return nil
}

// Get returns the value for key, or ok=false if missing or expired.
// Reading an expired entry deletes it.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if e.expired(c.now()) {
		delete(c.entries, key)
		c.flush()
		return nil, false
	}

	return e.Value, true
}

// GetInto unmarshals the cached value for key into dest. Returns false if
// the key is missing, expired, or does not unmarshal into dest.
func (c *Cache) GetInto(key string, dest any) bool {
	raw, ok := c.Get(key)
	if !ok {
		return false
	}

	return json.Unmarshal(raw, dest) == nil
}

// Has reports whether key holds a live entry, with the same expiry
// semantics as Get.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Remove deletes the entry for key, if any.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	c.flush()
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	c.flush()
}

// Sweep removes all expired entries in one pass and reports how many were
// purged. Get already purges lazily; Sweep exists for embedders that want
// a periodic cleanup.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			purged++
		}
	}

	if purged > 0 {
		c.flush()
	}
	return purged
}

// Len returns the number of entries currently held, including any not yet
// detected as expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
