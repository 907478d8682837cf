// Package dataset loads the list of cities to enrich from JSON, YAML, CSV or
// XLSX, on disk or over HTTP.
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jamsshhayd/world-cities-enriched/internal/config"
	"github.com/jamsshhayd/world-cities-enriched/internal/fetcher"
	"github.com/jamsshhayd/world-cities-enriched/internal/model"
)

// Input formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ErrEmptyInput is returned when an input file has no content.
var ErrEmptyInput = eris.New("dataset: input is empty")

// Dataset is a loaded input file.
type Dataset struct {
	Source  string
	Format  string
	Records []model.InputRecord
	// Invalid counts rows without a usable name.
	Invalid int
}

// Names returns the record names in input order.
func (d *Dataset) Names() []string {
	out := make([]string, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Name
	}
	return out
}

// Loader reads datasets. Remote sources are downloaded with its fetcher.
type Loader struct {
	fetcher fetcher.Fetcher
}

// NewLoader creates a Loader. f may be nil when only local files are read.
func NewLoader(f fetcher.Fetcher) *Loader {
	return &Loader{fetcher: f}
}

// Load reads the input described by cfg. A missing or unparseable input is an
// error; rows without a non-empty name are skipped with a warning.
func (l *Loader) Load(ctx context.Context, cfg config.InputConfig) (*Dataset, error) {
	format, err := DetectFormat(cfg.Path, cfg.Format)
	if err != nil {
		return nil, err
	}
	nameField := cfg.NameField
	if nameField == "" {
		nameField = model.DefaultNameField
	}

	rows, err := l.readRows(ctx, cfg, format)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: parse %s", cfg.Path)
	}

	ds := &Dataset{Source: cfg.Path, Format: format, Records: make([]model.InputRecord, 0, len(rows))}
	for i, row := range rows {
		rec, ok := model.NewInputRecord(nameField, row)
		if !ok {
			ds.Invalid++
			zap.L().Warn("dataset: row has no name, skipping",
				zap.String("source", cfg.Path),
				zap.Int("row", i+1),
				zap.String("name_field", nameField),
			)
			continue
		}
		ds.Records = append(ds.Records, rec)
	}

	zap.L().Info("dataset: loaded",
		zap.String("source", cfg.Path),
		zap.String("format", format),
		zap.Int("records", len(ds.Records)),
		zap.Int("invalid", ds.Invalid),
	)
	return ds, nil
}

func (l *Loader) readRows(ctx context.Context, cfg config.InputConfig, format string) ([]map[string]any, error) {
	if format == FormatXLSX && !config.IsURL(cfg.Path) {
		sheet, err := fetcher.ReadXLSX(cfg.Path, fetcher.XLSXOptions{})
		if err != nil {
			return nil, err
		}
		return stringRows(sheet), nil
	}

	raw, err := l.open(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}
	defer raw.Close() //nolint:errcheck

	if format == FormatXLSX {
		return readXLSX(raw)
	}

	r, err := fetcher.DecodeCharset(raw, cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if r, err = nonEmpty(r); err != nil {
		return nil, err
	}
	switch format {
	case FormatJSON:
		return readJSON(ctx, r)
	case FormatYAML:
		return readYAML(r)
	default:
		return readCSV(ctx, r)
	}
}

func (l *Loader) open(ctx context.Context, p string) (io.ReadCloser, error) {
	if config.IsURL(p) {
		if l.fetcher == nil {
			return nil, eris.Errorf("dataset: no fetcher configured for %s", p)
		}
		body, err := l.fetcher.Download(ctx, p)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: download %s", p)
		}
		return body, nil
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open input %s", p)
	}
	return f, nil
}

// DetectFormat returns override when set, otherwise the format implied by the
// file extension of p (or of its URL path).
func DetectFormat(p, override string) (string, error) {
	ext := strings.ToLower(strings.TrimSpace(override))
	if ext == "" {
		name := p
		if config.IsURL(p) {
			if u, err := url.Parse(p); err == nil {
				name = path.Base(u.Path)
			}
		}
		ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	}

	switch ext {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("dataset: cannot determine input format of %q", p)
	}
}

// nonEmpty fails with ErrEmptyInput when r holds only whitespace. The
// returned reader still yields every byte of r.
func nonEmpty(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	for i := 0; ; i++ {
		buf, err := br.Peek(i + 1)
		if len(buf) <= i {
			switch {
			case errors.Is(err, io.EOF):
				return nil, ErrEmptyInput
			case errors.Is(err, bufio.ErrBufferFull):
				return br, nil
			default:
				return nil, eris.Wrap(err, "dataset: read input")
			}
		}
		switch buf[i] {
		case ' ', '\t', '\r', '\n':
		default:
			return br, nil
		}
	}
}

func readJSON(ctx context.Context, r io.Reader) ([]map[string]any, error) {
	out, errs := fetcher.DecodeJSONArray[map[string]any](ctx, r, fetcher.JSONOptions{UseNumber: true})
	var rows []map[string]any
	for row := range out {
		if row == nil {
			row = map[string]any{}
		}
		rows = append(rows, row)
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return rows, nil
}

func readYAML(r io.Reader) ([]map[string]any, error) {
	var rows []map[string]any
	if err := yaml.NewDecoder(r).Decode(&rows); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrap(err, "yaml: decode list")
	}
	return rows, nil
}

func readCSV(ctx context.Context, r io.Reader) ([]map[string]any, error) {
	out, errs := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{TrimSpace: true})
	var rows []map[string]any
	for row := range out {
		rows = append(rows, stringRow(row))
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([]map[string]any, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, eris.Wrap(err, "xlsx: read input")
	}
	sheet, err := fetcher.ReadXLSXBinary(buf.Bytes(), fetcher.XLSXOptions{})
	if err != nil {
		return nil, err
	}
	return stringRows(sheet), nil
}

func stringRows(sheet []map[string]string) []map[string]any {
	rows := make([]map[string]any, 0, len(sheet))
	for _, row := range sheet {
		rows = append(rows, stringRow(row))
	}
	return rows
}

func stringRow(row map[string]string) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
