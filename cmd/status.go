package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jamsshhayd/world-cities-enriched/internal/config"
	"github.com/jamsshhayd/world-cities-enriched/internal/store"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enrichment progress and cache sizes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		report, err := buildStatus(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return eris.Wrap(enc.Encode(report), "encode status")
		}
		formatStatus(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(statusCmd)
}

// statusReport summarizes input, ledger and caches.
type statusReport struct {
	Input           string `json:"input"`
	Output          string `json:"output"`
	CacheDriver     string `json:"cache_driver"`
	InputRecords    int    `json:"input_records"`
	InvalidRows     int    `json:"invalid_rows"`
	Processed       int    `json:"processed"`
	Pending         int    `json:"pending"`
	MalformedLines  int    `json:"malformed_ledger_lines"`
	CachedQIDs      int    `json:"cached_qids"`
	CachedCountries int    `json:"cached_countries"`
	CachedStates    int    `json:"cached_states"`
}

func buildStatus(ctx context.Context, c *config.Config) (*statusReport, error) {
	caches, l, err := openStores(ctx, c)
	if err != nil {
		return nil, err
	}
	defer caches.Close() //nolint:errcheck
	defer l.Close()      //nolint:errcheck

	ds, err := newLoader(c).Load(ctx, c.Input)
	if err != nil {
		return nil, eris.Wrap(err, "load input")
	}

	pending := 0
	seen := make(map[string]struct{}, len(ds.Records))
	for _, name := range ds.Names() {
		if _, dup := seen[name]; dup || l.Has(name) {
			continue
		}
		seen[name] = struct{}{}
		pending++
	}

	stats := caches.Stats()
	return &statusReport{
		Input:           c.Input.Path,
		Output:          l.Path(),
		CacheDriver:     c.Cache.Driver,
		InputRecords:    len(ds.Records),
		InvalidRows:     ds.Invalid,
		Processed:       l.Len(),
		Pending:         pending,
		MalformedLines:  l.Malformed(),
		CachedQIDs:      stats[store.DomainQID],
		CachedCountries: stats[store.DomainCountry],
		CachedStates:    stats[store.DomainState],
	}, nil
}

// formatStatus writes a two-column view of r to out.
func formatStatus(out io.Writer, r *statusReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "INPUT\t%s\n", r.Input)
	_, _ = fmt.Fprintf(w, "OUTPUT\t%s\n", r.Output)
	_, _ = fmt.Fprintf(w, "CACHE DRIVER\t%s\n", r.CacheDriver)
	_, _ = fmt.Fprintf(w, "INPUT RECORDS\t%d\n", r.InputRecords)
	_, _ = fmt.Fprintf(w, "INVALID ROWS\t%d\n", r.InvalidRows)
	_, _ = fmt.Fprintf(w, "PROCESSED\t%d\n", r.Processed)
	_, _ = fmt.Fprintf(w, "PENDING\t%d\n", r.Pending)
	_, _ = fmt.Fprintf(w, "MALFORMED LEDGER LINES\t%d\n", r.MalformedLines)
	_, _ = fmt.Fprintf(w, "CACHED QIDS\t%d\n", r.CachedQIDs)
	_, _ = fmt.Fprintf(w, "CACHED COUNTRIES\t%d\n", r.CachedCountries)
	_, _ = fmt.Fprintf(w, "CACHED STATES\t%d\n", r.CachedStates)
	_ = w.Flush()
}
