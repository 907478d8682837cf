// Package ledger implements the append-only JSONL output file that doubles as
// the resume checkpoint of the enrichment job.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
)

// Ledger appends output records to a JSONL file and tracks which input names
// it already holds. It is safe for concurrent use.
type Ledger struct {
	path      string
	nameField string

	mu        sync.Mutex
	processed map[string]struct{}
	malformed int
	file      *os.File
	// needsNewline is set when the file ends in a partial line left by an
	// interrupted write.
	needsNewline bool
}

// Open replays the ledger at path to rebuild the processed-name set. A
// missing file is an empty ledger; the file is created on the first Append.
func Open(path, nameField string) (*Ledger, error) {
	l := &Ledger{
		path:      path,
		nameField: nameField,
		processed: make(map[string]struct{}),
	}

	stats, err := Scan(path, func(_ int, data []byte) error {
		name, err := decodeName(data, nameField)
		if err != nil {
			return err
		}
		l.processed[name] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.malformed = stats.Malformed
	l.needsNewline = stats.PartialTail

	if stats.Malformed > 0 {
		zap.L().Warn("ledger has malformed lines, skipped",
			zap.String("path", path),
			zap.Int("malformed", stats.Malformed),
		)
	}
	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Has reports whether name already has a ledger entry.
func (l *Ledger) Has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.processed[name]
	return ok
}

// Processed returns a copy of the processed-name set.
func (l *Ledger) Processed() map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]struct{}, len(l.processed))
	for k := range l.processed {
		out[k] = struct{}{}
	}
	return out
}

// Len returns the number of distinct processed names.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processed)
}

// Malformed returns the number of lines skipped when the ledger was opened.
func (l *Ledger) Malformed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.malformed
}

// Append writes rec as one line and syncs it to disk before returning.
func (l *Ledger) Append(rec model.OutputRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrapf(err, "ledger: marshal %s", rec.Input.Name)
	}
	line := make([]byte, 0, len(data)+2)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := l.openForAppend(); err != nil {
			return err
		}
	}
	if l.needsNewline {
		line = append(line, '\n')
	}
	line = append(line, data...)
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return eris.Wrapf(err, "ledger: write %s", rec.Input.Name)
	}
	if err := l.file.Sync(); err != nil {
		return eris.Wrapf(err, "ledger: sync %s", l.path)
	}
	l.needsNewline = false
	l.processed[rec.Input.Name] = struct{}{}
	return nil
}

func (l *Ledger) openForAppend() error {
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "ledger: create dir %s", dir)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrapf(err, "ledger: open %s", l.path)
	}
	l.file = f
	return nil
}

// Close closes the underlying file if it was opened.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return eris.Wrapf(err, "ledger: close %s", l.path)
}

// ScanStats summarizes one pass over a ledger file.
type ScanStats struct {
	Valid     int
	Malformed int
	// PartialTail is true when the last line has no terminating newline.
	PartialTail bool
}

// Scan calls fn for every non-blank line of the ledger at path. Lines for
// which fn returns an error are counted as malformed and skipped. A missing
// file yields zero stats.
func Scan(path string, fn func(line int, data []byte) error) (ScanStats, error) {
	var stats ScanStats

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return stats, nil
	}
	if err != nil {
		return stats, eris.Wrapf(err, "ledger: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		data, readErr := r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return stats, eris.Wrapf(readErr, "ledger: read %s", path)
		}
		atEOF := errors.Is(readErr, io.EOF)
		if atEOF && len(data) > 0 {
			stats.PartialTail = true
		}

		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 {
			if err := fn(lineNo, trimmed); err != nil {
				stats.Malformed++
				zap.L().Debug("skipping malformed ledger line",
					zap.String("path", path),
					zap.Int("line", lineNo),
					zap.Error(err),
				)
			} else {
				stats.Valid++
			}
		}

		if atEOF {
			return stats, nil
		}
	}
}

// ScanRecords decodes every well-formed record of the ledger at path.
func ScanRecords(path, nameField string, fn func(model.OutputRecord) error) (ScanStats, error) {
	var cbErr error
	stats, err := Scan(path, func(_ int, data []byte) error {
		rec, err := model.DecodeOutputRecord(data, nameField)
		if err != nil {
			return err
		}
		if cbErr == nil {
			cbErr = fn(rec)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, cbErr
}

// decodeName extracts only the name field so entries whose other fields do
// not match the current record types still count as processed.
func decodeName(data []byte, nameField string) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", eris.Wrap(err, "ledger: decode line")
	}
	raw, ok := obj[nameField]
	if !ok {
		return "", eris.Errorf("ledger: line has no %s", nameField)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", eris.Wrapf(err, "ledger: decode %s", nameField)
	}
	if strings.TrimSpace(name) == "" {
		return "", eris.Errorf("ledger: empty %s", nameField)
	}
	return name, nil
}
