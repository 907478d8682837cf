package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/jamsshhayd/world-cities-enriched/internal/config"
)

// OpenBackend creates the backend selected by cfg.Driver.
func OpenBackend(ctx context.Context, cfg config.CacheConfig) (Backend, error) {
	switch cfg.Driver {
	case config.DriverJSON, "":
		return NewJSONFileBackend(map[Domain]string{
			DomainQID:     cfg.QIDPath,
			DomainCountry: cfg.CountriesPath,
			DomainState:   cfg.StatesPath,
		}), nil
	case config.DriverSQLite:
		return NewSQLite(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
