package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jamsshhayd/world-cities-enriched/internal/config"
	"github.com/jamsshhayd/world-cities-enriched/internal/export"
	"github.com/jamsshhayd/world-cities-enriched/internal/ledger"
	"github.com/jamsshhayd/world-cities-enriched/internal/model"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the enriched ledger as CSV, XLSX, GeoJSON or shapefile",
	Long: "Reads every well-formed record of the output ledger and writes it in the chosen format. " +
		"GeoJSON and shapefile exports leave out cities without coordinates.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := export.ParseFormat(exportFormat, exportOut)
		if err != nil {
			return err
		}
		_, err = runExport(cfg, f, exportOut)
		return err
	},
}

func init() {
	names := make([]string, len(export.Formats))
	for i, f := range export.Formats {
		names[i] = string(f)
	}
	exportCmd.Flags().StringVar(&exportFormat, "format", "",
		"one of "+strings.Join(names, ", ")+" (default: from --out extension)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "destination file (required)")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}

// runExport writes the ledger at c.Output.Path to out.
func runExport(c *config.Config, f export.Format, out string) (export.Stats, error) {
	var recs []model.OutputRecord
	if _, err := ledger.ScanRecords(c.Output.Path, c.Input.NameField, func(r model.OutputRecord) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		return export.Stats{}, eris.Wrap(err, "read ledger")
	}
	if len(recs) == 0 {
		return export.Stats{}, eris.Errorf("ledger %s has no records to export", c.Output.Path)
	}
	return export.ToFile(out, f, c.Input.NameField, recs)
}
