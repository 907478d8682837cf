// Package resolve maps city names to Wikidata entity IDs.
package resolve

import (
	"context"

	"go.uber.org/zap"

	"github.com/jamsshhayd/world-cities-enriched/internal/store"
	"github.com/jamsshhayd/world-cities-enriched/pkg/wikidata"
)

// Resolver looks names up in the QID cache and falls back to a single
// Wikidata search. Names are matched exactly, with no normalization.
type Resolver struct {
	cache  *store.Cache[string]
	client wikidata.Client
}

// New creates a Resolver.
func New(cache *store.Cache[string], client wikidata.Client) *Resolver {
	return &Resolver{cache: cache, client: client}
}

// Resolve returns the entity ID for name. It reports false when the search
// has no result or fails; such misses are not cached so a later run retries
// them. A found ID is written to the cache before it is returned.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, bool) {
	if qid, ok := r.cache.Get(name); ok {
		return qid, true
	}

	log := zap.L().With(zap.String("name", name))

	resp, err := r.client.SearchEntities(ctx, name)
	if err != nil {
		log.Warn("resolve: search failed", zap.Error(err))
		return "", false
	}
	if resp == nil || len(resp.Search) == 0 || resp.Search[0].ID == "" {
		log.Warn("resolve: no match")
		return "", false
	}

	qid := resp.Search[0].ID
	if err := r.cache.Put(ctx, name, qid); err != nil {
		// The ID is still usable for this record; the next run searches again.
		log.Error("resolve: persist qid failed", zap.String("qid", qid), zap.Error(err))
	}
	log.Debug("resolve: found", zap.String("qid", qid), zap.String("label", resp.Search[0].Label))
	return qid, true
}
