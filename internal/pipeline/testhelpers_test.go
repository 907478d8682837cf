package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamsshhayd/world-cities-enriched/internal/config"
	"github.com/jamsshhayd/world-cities-enriched/internal/entity"
	"github.com/jamsshhayd/world-cities-enriched/internal/ledger"
	"github.com/jamsshhayd/world-cities-enriched/internal/model"
	"github.com/jamsshhayd/world-cities-enriched/internal/resolve"
	"github.com/jamsshhayd/world-cities-enriched/internal/store"
	"github.com/jamsshhayd/world-cities-enriched/pkg/wikidata"
)

// fakeWikidata serves canned search results and entity documents and counts
// every call.
type fakeWikidata struct {
	mu          sync.Mutex
	names       map[string]string
	docs        map[string]string
	failEntity  map[string]bool
	searchCalls map[string]int
	entityCalls map[string]int
}

func newFakeWikidata() *fakeWikidata {
	return &fakeWikidata{
		names:       map[string]string{},
		docs:        map[string]string{},
		failEntity:  map[string]bool{},
		searchCalls: map[string]int{},
		entityCalls: map[string]int{},
	}
}

func (f *fakeWikidata) SearchEntities(_ context.Context, query string) (*wikidata.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls[query]++
	qid, ok := f.names[query]
	if !ok {
		return &wikidata.SearchResponse{}, nil
	}
	return &wikidata.SearchResponse{Search: []wikidata.SearchResult{{ID: qid, Label: query}}}, nil
}

func (f *fakeWikidata) GetEntity(_ context.Context, id string) (*wikidata.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityCalls[id]++
	if f.failEntity[id] {
		return nil, errors.New("service unavailable")
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, wikidata.ErrNotFound
	}
	var e wikidata.Entity
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (f *fakeWikidata) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.searchCalls {
		n += c
	}
	for _, c := range f.entityCalls {
		n += c
	}
	return n
}

func (f *fakeWikidata) entityCallsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entityCalls[id]
}

func (f *fakeWikidata) searchCallsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls[name]
}

// doc builds an entity document from labels and claims. Claim values are
// strings for entity references ("Q..."), [2]float64 for coordinates, int64
// for quantities and anything else as a string value.
func doc(id string, labels map[string]string, claims map[string]any) string {
	e := map[string]any{"id": id}
	ls := map[string]any{}
	for lang, v := range labels {
		ls[lang] = map[string]string{"language": lang, "value": v}
	}
	e["labels"] = ls

	cs := map[string]any{}
	for prop, v := range claims {
		var dv map[string]any
		switch val := v.(type) {
		case [2]float64:
			dv = map[string]any{"type": "globecoordinate", "value": map[string]float64{"latitude": val[0], "longitude": val[1]}}
		case int64:
			dv = map[string]any{"type": "quantity", "value": map[string]string{"amount": fmt.Sprintf("%+d", val), "unit": "1"}}
		case entityRef:
			dv = map[string]any{"type": "wikibase-entityid", "value": map[string]string{"id": string(val)}}
		default:
			dv = map[string]any{"type": "string", "value": fmt.Sprint(val)}
		}
		cs[prop] = []any{map[string]any{"mainsnak": map[string]any{"snaktype": "value", "property": prop, "datavalue": dv}}}
	}
	e["claims"] = cs

	data, _ := json.Marshal(e)
	return string(data)
}

type entityRef string

// harness wires a Pipeline over file-backed caches and ledger in dir.
type harness struct {
	dir    string
	wd     *fakeWikidata
	caches *store.Caches
	ledger *ledger.Ledger
	p      *Pipeline
	sleeps int
}

func (h *harness) ledgerPath() string { return filepath.Join(h.dir, "cities_enriched.jsonl") }

func (h *harness) cachePaths() map[store.Domain]string {
	return map[store.Domain]string{
		store.DomainQID:     filepath.Join(h.dir, "qid_lookup.json"),
		store.DomainCountry: filepath.Join(h.dir, "countries_cache.json"),
		store.DomainState:   filepath.Join(h.dir, "states_cache.json"),
	}
}

func newHarness(t *testing.T, dir string, wd *fakeWikidata, cfg config.PipelineConfig) *harness {
	t.Helper()
	h := &harness{dir: dir, wd: wd}

	caches, err := store.Open(context.Background(), store.NewJSONFileBackend(h.cachePaths()))
	require.NoError(t, err)
	l, err := ledger.Open(h.ledgerPath(), model.DefaultNameField)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	h.caches = caches
	h.ledger = l
	h.p = New(resolve.New(caches.QIDs, wd), entity.NewFetcher(wd), caches, l, cfg,
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			h.sleeps++
			return ctx.Err()
		}),
		WithRunID("test-run"),
	)
	return h
}

func inputs(names ...string) []model.InputRecord {
	out := make([]model.InputRecord, 0, len(names))
	for _, n := range names {
		rec, ok := model.NewInputRecord(model.DefaultNameField, map[string]any{model.DefaultNameField: n})
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

// egyptFixture registers Cairo (capital), Giza and Alexandria under Egypt.
func egyptFixture() *fakeWikidata {
	wd := newFakeWikidata()
	wd.names["Cairo"] = "Q85"
	wd.names["Giza"] = "Q81788"
	wd.names["Alexandria"] = "Q87"

	wd.docs["Q85"] = doc("Q85", map[string]string{"en": "Cairo", "ar": "القاهرة"}, map[string]any{
		wikidata.PropCountry:     entityRef("Q79"),
		wikidata.PropLocatedIn:   entityRef("Q30"),
		wikidata.PropCoordinates: [2]float64{30.0444, 31.2357},
		wikidata.PropPopulation:  int64(9539673),
	})
	wd.docs["Q81788"] = doc("Q81788", map[string]string{"en": "Giza", "ar": "الجيزة"}, map[string]any{
		wikidata.PropCountry:     entityRef("Q79"),
		wikidata.PropLocatedIn:   entityRef("Q29882"),
		wikidata.PropCoordinates: [2]float64{30.0131, 31.2089},
	})
	wd.docs["Q87"] = doc("Q87", map[string]string{"en": "Alexandria"}, map[string]any{
		wikidata.PropCountry:     entityRef("Q79"),
		wikidata.PropCoordinates: [2]float64{31.2, 29.9167},
	})
	wd.docs["Q79"] = doc("Q79", map[string]string{"en": "Egypt", "ar": "مصر"}, map[string]any{
		wikidata.PropISOAlpha2: "EG",
		wikidata.PropCapital:   entityRef("Q85"),
	})
	wd.docs["Q30"] = doc("Q30", map[string]string{"en": "Cairo Governorate"}, map[string]any{
		wikidata.PropISO31662: "EG-C",
		wikidata.PropCountry:  entityRef("Q79"),
	})
	wd.docs["Q29882"] = doc("Q29882", map[string]string{"en": "Giza Governorate"}, map[string]any{
		wikidata.PropISO31662: "EG-GZ",
		wikidata.PropCountry:  entityRef("Q79"),
	})
	return wd
}
