package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamsshhayd/world-cities-enriched/internal/config"
	"github.com/jamsshhayd/world-cities-enriched/internal/ledger"
	"github.com/jamsshhayd/world-cities-enriched/internal/model"
	"github.com/jamsshhayd/world-cities-enriched/pkg/wikidata"
)

func readLedger(t *testing.T, path string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestRun_Testville(t *testing.T) {
	wd := newFakeWikidata()
	wd.names["Testville"] = "Q1"
	wd.docs["Q1"] = doc("Q1", nil, map[string]any{
		wikidata.PropCountry:     entityRef("Q2"),
		wikidata.PropCoordinates: [2]float64{10.0, 20.0},
	})
	wd.docs["Q2"] = doc("Q2", nil, map[string]any{
		wikidata.PropCapital:   entityRef("Q1"),
		wikidata.PropISOAlpha2: "TV",
	})

	h := newHarness(t, t.TempDir(), wd, config.PipelineConfig{})
	res, err := h.p.Run(context.Background(), inputs("Testville"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Emitted)
	assert.Equal(t, "test-run", res.RunID)

	recs := readLedger(t, h.ledgerPath())
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "Testville", rec["CityNameEn"])
	assert.Equal(t, true, rec["IsCapital"])
	assert.Equal(t, 10.0, rec["Latitude"])
	assert.Equal(t, 20.0, rec["Longitude"])
	country := rec["CountryDetails"].(map[string]any)
	assert.Equal(t, "TV", country["IsoAlpha2"])
	assert.NotContains(t, rec, "StateDetails")
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	dir := t.TempDir()
	wd := egyptFixture()
	names := inputs("Cairo", "Giza", "Alexandria")

	first := newHarness(t, dir, wd, config.PipelineConfig{})
	res, err := first.p.Run(context.Background(), names)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Emitted)
	require.NoError(t, first.ledger.Close())

	before, err := os.ReadFile(first.ledgerPath())
	require.NoError(t, err)
	callsBefore := wd.totalCalls()

	second := newHarness(t, dir, wd, config.PipelineConfig{})
	res, err = second.p.Run(context.Background(), names)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Emitted)
	assert.Equal(t, 3, res.AlreadyProcessed)
	assert.Equal(t, 0, res.Pending)

	after, err := os.ReadFile(second.ledgerPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, callsBefore, wd.totalCalls(), "no external calls on a completed input")
}

func TestRun_CachedKeysAreNeverRefetched(t *testing.T) {
	dir := t.TempDir()
	wd := egyptFixture()

	h := newHarness(t, dir, wd, config.PipelineConfig{})
	_, err := h.p.Run(context.Background(), inputs("Cairo", "Giza", "Alexandria"))
	require.NoError(t, err)

	assert.Equal(t, 1, wd.entityCallsFor("Q79"), "one country fetch for three cities")
	assert.Equal(t, 1, wd.entityCallsFor("Q30"))
	assert.Equal(t, 1, wd.searchCallsFor("Cairo"))

	// Reprocess the same names into a fresh ledger over the same caches.
	require.NoError(t, os.Remove(h.ledgerPath()))
	again := newHarness(t, dir, wd, config.PipelineConfig{})
	res, err := again.p.Run(context.Background(), inputs("Cairo", "Giza", "Alexandria"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Emitted)

	assert.Equal(t, 1, wd.entityCallsFor("Q79"))
	assert.Equal(t, 1, wd.entityCallsFor("Q30"))
	assert.Equal(t, 1, wd.entityCallsFor("Q29882"))
	assert.Equal(t, 1, wd.searchCallsFor("Cairo"))
	assert.Equal(t, 1, wd.searchCallsFor("Giza"))
}

func TestRun_CapitalFlag(t *testing.T) {
	wd := egyptFixture()
	wd.names["Nowhere"] = "Q500"
	wd.docs["Q500"] = doc("Q500", nil, map[string]any{
		wikidata.PropCoordinates: [2]float64{1, 2},
	})
	wd.names["Freetown Christiania"] = "Q501"
	wd.docs["Q501"] = doc("Q501", nil, map[string]any{wikidata.PropCountry: entityRef("Q502")})
	wd.docs["Q502"] = doc("Q502", map[string]string{"en": "No Capital Land"}, nil)

	h := newHarness(t, t.TempDir(), wd, config.PipelineConfig{})
	_, err := h.p.Run(context.Background(), inputs("Cairo", "Giza", "Nowhere", "Freetown Christiania"))
	require.NoError(t, err)

	recs := readLedger(t, h.ledgerPath())
	require.Len(t, recs, 4)
	byName := map[string]map[string]any{}
	for _, r := range recs {
		byName[r["CityNameEn"].(string)] = r
	}

	assert.Equal(t, true, byName["Cairo"]["IsCapital"])
	assert.Equal(t, false, byName["Giza"]["IsCapital"])
	assert.Equal(t, false, byName["Nowhere"]["IsCapital"], "no country means not a capital")
	assert.NotContains(t, byName["Nowhere"], "CountryDetails")
	assert.Equal(t, false, byName["Freetown Christiania"]["IsCapital"], "country without capital")
}

func TestRun_RedirectedCityUsesTargetID(t *testing.T) {
	wd := egyptFixture()
	wd.names["Al Qahirah"] = "Q2868"
	wd.docs["Q2868"] = wd.docs["Q85"]

	h := newHarness(t, t.TempDir(), wd, config.PipelineConfig{})
	res, err := h.p.Run(context.Background(), inputs("Al Qahirah"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Emitted)

	recs := readLedger(t, h.ledgerPath())
	require.Len(t, recs, 1)
	assert.Equal(t, "Q85", recs[0]["CityQID"])
	assert.Equal(t, true, recs[0]["IsCapital"], "capital check uses the redirect target")
}

func TestRun_MissingPropertiesDegrade(t *testing.T) {
	wd := egyptFixture()
	wd.names["Siwa"] = "Q202"
	wd.docs["Q202"] = doc("Q202", map[string]string{"en": "Siwa"}, map[string]any{
		wikidata.PropCountry: entityRef("Q79"),
	})
	wd.names["Ghost"] = "Q203"
	wd.failEntity["Q203"] = true

	h := newHarness(t, t.TempDir(), wd, config.PipelineConfig{})
	res, err := h.p.Run(context.Background(), inputs("Siwa", "Ghost", "Cairo"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Emitted)

	recs := readLedger(t, h.ledgerPath())
	require.Len(t, recs, 3)

	siwa := recs[0]
	assert.Contains(t, siwa, "Latitude")
	assert.Nil(t, siwa["Latitude"])
	assert.Nil(t, siwa["Population"])
	assert.Equal(t, "Q79", siwa["CountryQID"])

	ghost := recs[1]
	assert.Equal(t, "Q203", ghost["CityQID"])
	assert.Nil(t, ghost["CountryQID"])
	assert.Equal(t, false, ghost["IsCapital"])

	assert.Equal(t, "Cairo", recs[2]["CityNameEn"], "later records still process")
}

func TestRun_ResolverMissIsRetriedNextRun(t *testing.T) {
	dir := t.TempDir()
	wd := egyptFixture()

	h := newHarness(t, dir, wd, config.PipelineConfig{})
	res, err := h.p.Run(context.Background(), inputs("Atlantis", "Cairo"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Emitted)
	assert.False(t, h.ledger.Has("Atlantis"))
	_, cached := h.caches.QIDs.Get("Atlantis")
	assert.False(t, cached)
	require.NoError(t, h.ledger.Close())

	wd.names["Atlantis"] = "Q1000"
	wd.docs["Q1000"] = doc("Q1000", nil, nil)

	again := newHarness(t, dir, wd, config.PipelineConfig{})
	res, err = again.p.Run(context.Background(), inputs("Atlantis", "Cairo"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Emitted)
	assert.Equal(t, 1, res.AlreadyProcessed)
	assert.Equal(t, 2, wd.searchCallsFor("Atlantis"))
	assert.True(t, again.ledger.Has("Atlantis"))
}

func TestRun_MalformedLedgerLineIsIgnored(t *testing.T) {
	dir := t.TempDir()
	wd := egyptFixture()
	h := newHarness(t, dir, wd, config.PipelineConfig{})
	require.NoError(t, os.WriteFile(h.ledgerPath(), []byte(
		`{"CityNameEn":"Cairo","IsCapital":true}`+"\n"+
			`{not json`+"\n"+
			`{"CityNameEn":"Giza","IsCapital":false}`+"\n"), 0o644))

	reopened := newHarness(t, dir, wd, config.PipelineConfig{})
	assert.Equal(t, 2, reopened.ledger.Len())
	assert.Equal(t, 1, reopened.ledger.Malformed())

	res, err := reopened.p.Run(context.Background(), inputs("Cairo", "Giza", "Alexandria"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.AlreadyProcessed)
	assert.Equal(t, 1, res.Emitted)
}

func TestRun_PacingAfterEveryTerminalRecord(t *testing.T) {
	wd := egyptFixture()
	h := newHarness(t, t.TempDir(), wd, config.PipelineConfig{PacingDelay: time.Second})

	res, err := h.p.Run(context.Background(), inputs("Cairo", "Atlantis", "Giza"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Emitted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 3, h.sleeps)
}

func TestRun_DuplicateNamesEmitOnce(t *testing.T) {
	wd := egyptFixture()
	h := newHarness(t, t.TempDir(), wd, config.PipelineConfig{})

	res, err := h.p.Run(context.Background(), inputs("Cairo", "Giza", "Cairo"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 2, res.Emitted)
	assert.Len(t, readLedger(t, h.ledgerPath()), 2)
}

func TestRun_Limit(t *testing.T) {
	wd := egyptFixture()
	h := newHarness(t, t.TempDir(), wd, config.PipelineConfig{Limit: 2})

	res, err := h.p.Run(context.Background(), inputs("Cairo", "Giza", "Alexandria"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pending)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 2, res.Emitted)
	assert.False(t, h.ledger.Has("Alexandria"))
}

func TestRun_FailedCountryFetchServedForRunButNotPersisted(t *testing.T) {
	dir := t.TempDir()
	wd := egyptFixture()
	wd.failEntity["Q79"] = true

	h := newHarness(t, dir, wd, config.PipelineConfig{})
	res, err := h.p.Run(context.Background(), inputs("Cairo", "Giza"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Emitted)
	assert.Equal(t, 1, wd.entityCallsFor("Q79"))
	assert.Zero(t, h.caches.Countries.Len())

	recs := readLedger(t, h.ledgerPath())
	assert.Equal(t, false, recs[0]["IsCapital"])
	country := recs[0]["CountryDetails"].(map[string]any)
	assert.Equal(t, "Q79", country["CountryQID"])
	assert.Nil(t, country["IsoAlpha2"])
}

func TestRun_InterruptKeepsCommittedRecords(t *testing.T) {
	wd := egyptFixture()
	dir := t.TempDir()
	h := newHarness(t, dir, wd, config.PipelineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.p.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := h.p.Run(ctx, inputs("Cairo", "Giza", "Alexandria"))
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Emitted)

	reopened, err := ledger.Open(h.ledgerPath(), model.DefaultNameField)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	assert.True(t, reopened.Has("Cairo"))
}

func TestProcess_CancelledContextDiscardsRecord(t *testing.T) {
	wd := egyptFixture()
	h := newHarness(t, t.TempDir(), wd, config.PipelineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := h.p.Process(ctx, inputs("Cairo")[0])
	require.Error(t, err)
	assert.False(t, state.Terminal())
	assert.False(t, h.ledger.Has("Cairo"))
}

func TestRun_PassesInputFieldsThrough(t *testing.T) {
	wd := egyptFixture()
	h := newHarness(t, t.TempDir(), wd, config.PipelineConfig{})

	rec, ok := model.NewInputRecord(model.DefaultNameField, map[string]any{
		model.DefaultNameField: "Cairo",
		"Region":               "MENA",
		"Population":           json.Number("1"),
	})
	require.True(t, ok)

	_, err := h.p.Run(context.Background(), []model.InputRecord{rec})
	require.NoError(t, err)

	recs := readLedger(t, h.ledgerPath())
	require.Len(t, recs, 1)
	assert.Equal(t, "MENA", recs[0]["Region"])
	assert.Equal(t, 9539673.0, recs[0]["Population"], "extracted fields overwrite input fields")
	state := recs[0]["StateDetails"].(map[string]any)
	assert.Equal(t, "EG-C", state["IsoCode"])
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateEmitted.Terminal())
	assert.True(t, StateSkipped.Terminal())
	assert.False(t, StateCountryLinked.Terminal())
}
