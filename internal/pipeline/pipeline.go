// Package pipeline drives the per-record enrichment: resolve the name, fetch
// the city, link its country and state through the caches, and append the
// result to the ledger.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jamsshhayd/world-cities-enriched/internal/config"
	"github.com/jamsshhayd/world-cities-enriched/internal/ledger"
	"github.com/jamsshhayd/world-cities-enriched/internal/model"
	"github.com/jamsshhayd/world-cities-enriched/internal/store"
)

// Resolver maps a name to an entity ID.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, bool)
}

// DetailFetcher retrieves level-specific entity records. On failure each
// method returns a record carrying only the ID together with the error.
type DetailFetcher interface {
	City(ctx context.Context, id string) (model.CityRecord, error)
	Country(ctx context.Context, id string) (model.CountryRecord, error)
	State(ctx context.Context, id string) (model.StateRecord, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSleep replaces the pacing sleep (for testing).
func WithSleep(fn SleepFunc) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

// WithRunID sets the run identifier attached to every log line.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// Pipeline processes input records one at a time. It owns no goroutines and
// issues no concurrent requests.
type Pipeline struct {
	resolver Resolver
	fetcher  DetailFetcher
	caches   *store.Caches
	ledger   *ledger.Ledger
	cfg      config.PipelineConfig
	sleep    SleepFunc
	runID    string
}

// New creates a Pipeline.
func New(resolver Resolver, fetcher DetailFetcher, caches *store.Caches, l *ledger.Ledger, cfg config.PipelineConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		fetcher:  fetcher,
		caches:   caches,
		ledger:   l,
		cfg:      cfg,
		sleep:    sleepContext,
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunID returns the run identifier.
func (p *Pipeline) RunID() string { return p.runID }

// Result summarizes one run.
type Result struct {
	RunID            string        `json:"run_id"`
	Total            int           `json:"total"`
	AlreadyProcessed int           `json:"already_processed"`
	Duplicates       int           `json:"duplicates"`
	Pending          int           `json:"pending"`
	Attempted        int           `json:"attempted"`
	Emitted          int           `json:"emitted"`
	Skipped          int           `json:"skipped"`
	Interrupted      bool          `json:"interrupted"`
	Duration         time.Duration `json:"duration"`
}

// Plan returns the records not yet in the ledger, in input order. Repeated
// names are kept once. It also fills the counting fields of res.
func (p *Pipeline) Plan(inputs []model.InputRecord, res *Result) []model.InputRecord {
	res.Total = len(inputs)

	seen := make(map[string]struct{}, len(inputs))
	pending := make([]model.InputRecord, 0, len(inputs))
	for _, in := range inputs {
		if p.ledger.Has(in.Name) {
			res.AlreadyProcessed++
			continue
		}
		if _, dup := seen[in.Name]; dup {
			res.Duplicates++
			continue
		}
		seen[in.Name] = struct{}{}
		pending = append(pending, in)
	}
	res.Pending = len(pending)
	return pending
}

// Run enriches every pending record. A cancelled context stops the run after
// the record in flight is discarded; the result is then marked interrupted
// and no error is returned. Only a ledger write failure is returned as an
// error.
func (p *Pipeline) Run(ctx context.Context, inputs []model.InputRecord) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("run_id", p.runID))
	res := &Result{RunID: p.runID}

	pending := p.Plan(inputs, res)
	if p.cfg.Limit > 0 && len(pending) > p.cfg.Limit {
		pending = pending[:p.cfg.Limit]
	}

	log.Info("pipeline: starting run",
		zap.Int("total", res.Total),
		zap.Int("already_processed", res.AlreadyProcessed),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("pending", res.Pending),
		zap.Int("this_run", len(pending)),
	)

	defer func() {
		res.Duration = time.Since(start)
		log.Info("pipeline: run complete",
			zap.Int("emitted", res.Emitted),
			zap.Int("skipped", res.Skipped),
			zap.Bool("interrupted", res.Interrupted),
			zap.Duration("duration", res.Duration),
		)
	}()

	for i, in := range pending {
		if ctx.Err() != nil {
			res.Interrupted = true
			return res, nil
		}

		log.Info("pipeline: processing",
			zap.Int("position", i+1),
			zap.Int("total", len(pending)),
			zap.String("name", in.Name),
		)
		res.Attempted++

		state, err := p.Process(ctx, in)
		if err != nil {
			if isCancel(err) {
				log.Warn("pipeline: interrupted, discarding in-flight record", zap.String("name", in.Name))
				res.Interrupted = true
				return res, nil
			}
			return res, err
		}
		if !state.Terminal() {
			return res, eris.Errorf("pipeline: %s stopped in state %s", in.Name, state)
		}

		switch state {
		case StateEmitted:
			res.Emitted++
		case StateSkipped:
			res.Skipped++
		}

		if err := p.sleep(ctx, p.cfg.PacingDelay); err != nil {
			res.Interrupted = true
			return res, nil
		}
	}
	return res, nil
}

// Process runs the state machine for one record and returns its terminal
// state. Fetch failures degrade to absent fields. The returned error is
// either a context error or a ledger write failure.
func (p *Pipeline) Process(ctx context.Context, in model.InputRecord) (State, error) {
	log := zap.L().With(zap.String("run_id", p.runID), zap.String("name", in.Name))
	state := StatePending

	qid, ok := p.resolver.Resolve(ctx, in.Name)
	if err := ctx.Err(); err != nil {
		return state, err
	}
	if !ok {
		log.Warn("pipeline: name not resolved, skipping")
		return StateSkipped, nil
	}
	state = StateResolved

	city, err := p.fetcher.City(ctx, qid)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return state, ctxErr
	}
	if err != nil {
		log.Warn("pipeline: city details unavailable", zap.String("qid", qid), zap.Error(err))
	}
	out := model.OutputRecord{Input: in, City: city}
	state = StateEnriched

	if city.CountryQID != nil {
		cqid := *city.CountryQID
		country, err := p.caches.Countries.GetOrFetch(ctx, cqid, func(ctx context.Context) (model.CountryRecord, error) {
			return p.fetcher.Country(ctx, cqid)
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return state, ctxErr
		}
		if err != nil {
			log.Warn("pipeline: country details unavailable", zap.String("country_qid", cqid), zap.Error(err))
		}
		out.CountryDetails = &country
		out.IsCapital = country.IsCapital(city.CityQID)
	}
	state = StateCountryLinked

	if city.StateQID != nil {
		sqid := *city.StateQID
		st, err := p.caches.States.GetOrFetch(ctx, sqid, func(ctx context.Context) (model.StateRecord, error) {
			return p.fetcher.State(ctx, sqid)
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return state, ctxErr
		}
		if err != nil {
			log.Warn("pipeline: state details unavailable", zap.String("state_qid", sqid), zap.Error(err))
		}
		out.StateDetails = &st
	}
	state = StateStateLinked

	if err := p.ledger.Append(out); err != nil {
		return state, eris.Wrapf(err, "pipeline: append %s", in.Name)
	}

	log.Debug("pipeline: emitted",
		zap.String("qid", city.CityQID),
		zap.String("country_qid", model.Deref(city.CountryQID)),
		zap.String("state_qid", model.Deref(city.StateQID)),
		zap.Bool("is_capital", out.IsCapital),
		zap.String("from_state", string(state)),
	)
	return StateEmitted, nil
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
