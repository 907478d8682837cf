// Package store persists the three lookup caches used by the enrichment
// pipeline: name to QID, country QID to country record, and state QID to
// state record. Entries are immutable once written.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
)

// Domain names one cache.
type Domain string

// Cache domains.
const (
	DomainQID     Domain = "qid"
	DomainCountry Domain = "country"
	DomainState   Domain = "state"
)

// Backend persists raw cache entries. Load returns an empty map when nothing
// has been stored yet. Insert must persist before returning and must not
// overwrite an existing key.
type Backend interface {
	Load(ctx context.Context, d Domain) (map[string]json.RawMessage, error)
	Insert(ctx context.Context, d Domain, key string, value json.RawMessage) error
	Close() error
}

// Cache is an in-memory view of one domain with write-through persistence.
// It is safe for concurrent use.
type Cache[V any] struct {
	domain  Domain
	backend Backend

	mu      sync.RWMutex
	entries map[string]V
	// session holds values from failed fetches. They are served for the life
	// of the process but never persisted, so the next run retries them.
	session map[string]V

	group singleflight.Group
}

func loadCache[V any](ctx context.Context, d Domain, backend Backend) (*Cache[V], error) {
	raw, err := backend.Load(ctx, d)
	if err != nil {
		return nil, eris.Wrapf(err, "store: load %s cache", d)
	}

	c := &Cache[V]{
		domain:  d,
		backend: backend,
		entries: make(map[string]V, len(raw)),
		session: make(map[string]V),
	}
	for k, data := range raw {
		var v V
		if err := json.Unmarshal(data, &v); err != nil {
			zap.L().Warn("skipping undecodable cache entry",
				zap.String("domain", string(d)),
				zap.String("key", k),
				zap.Error(err),
			)
			continue
		}
		c.entries[k] = v
	}
	return c, nil
}

// Get returns the value for key. Keys are matched exactly.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.entries[key]; ok {
		return v, true
	}
	v, ok := c.session[key]
	return v, ok
}

// Len returns the number of durable entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Put stores v under key and persists it before returning. An existing
// durable entry is never replaced; Put is then a no-op.
func (c *Cache[V]) Put(ctx context.Context, key string, v V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "store: marshal %s entry %s", c.domain, key)
	}
	if err := c.backend.Insert(ctx, c.domain, key, data); err != nil {
		return eris.Wrapf(err, "store: insert %s entry %s", c.domain, key)
	}

	c.entries[key] = v
	delete(c.session, key)
	return nil
}

// GetOrFetch returns the value for key, calling fetch on a miss. A successful
// fetch is persisted before it is returned. When fetch fails, its value is
// kept for this process only and returned together with the error.
// Concurrent misses for the same key share one fetch.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	type outcome struct {
		val V
		err error
	}

	res, _, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return outcome{val: v}, nil
		}

		v, err := fetch(ctx)
		if err != nil {
			c.mu.Lock()
			c.session[key] = v
			c.mu.Unlock()
			return outcome{val: v, err: err}, nil
		}

		if err := c.Put(ctx, key, v); err != nil {
			return outcome{val: v, err: err}, nil
		}
		return outcome{val: v}, nil
	})

	out := res.(outcome)
	return out.val, out.err
}

// Caches groups the three domains over one backend.
type Caches struct {
	QIDs      *Cache[string]
	Countries *Cache[model.CountryRecord]
	States    *Cache[model.StateRecord]

	backend Backend
}

// Open loads every domain from backend into memory.
func Open(ctx context.Context, backend Backend) (*Caches, error) {
	qids, err := loadCache[string](ctx, DomainQID, backend)
	if err != nil {
		return nil, err
	}
	countries, err := loadCache[model.CountryRecord](ctx, DomainCountry, backend)
	if err != nil {
		return nil, err
	}
	states, err := loadCache[model.StateRecord](ctx, DomainState, backend)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("caches loaded",
		zap.Int("qids", qids.Len()),
		zap.Int("countries", countries.Len()),
		zap.Int("states", states.Len()),
	)

	return &Caches{QIDs: qids, Countries: countries, States: states, backend: backend}, nil
}

// Stats returns the number of durable entries per domain.
func (c *Caches) Stats() map[Domain]int {
	return map[Domain]int{
		DomainQID:     c.QIDs.Len(),
		DomainCountry: c.Countries.Len(),
		DomainState:   c.States.Len(),
	}
}

// Close releases the backend.
func (c *Caches) Close() error {
	return c.backend.Close()
}
