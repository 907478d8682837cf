package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// JSONFileBackend keeps each domain in its own human-readable JSON object
// file. Every insert rewrites the whole file.
type JSONFileBackend struct {
	paths map[Domain]string

	mu   sync.Mutex
	data map[Domain]map[string]json.RawMessage
}

// NewJSONFileBackend creates a backend writing each domain to paths[domain].
func NewJSONFileBackend(paths map[Domain]string) *JSONFileBackend {
	return &JSONFileBackend{
		paths: paths,
		data:  make(map[Domain]map[string]json.RawMessage, len(paths)),
	}
}

func (b *JSONFileBackend) path(d Domain) (string, error) {
	p, ok := b.paths[d]
	if !ok || p == "" {
		return "", eris.Errorf("jsonfile: no path for %s cache", d)
	}
	return p, nil
}

// Load reads the domain file. A missing file is an empty cache. A file that
// does not parse is moved aside and the cache starts empty.
func (b *JSONFileBackend) Load(_ context.Context, d Domain) (map[string]json.RawMessage, error) {
	p, err := b.path(d)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make(map[string]json.RawMessage)
	raw, err := os.ReadFile(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, eris.Wrapf(err, "jsonfile: read %s", p)
	case len(bytes.TrimSpace(raw)) == 0:
	default:
		if err := json.Unmarshal(raw, &entries); err != nil {
			aside := fmt.Sprintf("%s.corrupt-%d", p, time.Now().Unix())
			zap.L().Warn("cache file is malformed, starting empty",
				zap.String("path", p),
				zap.String("moved_to", aside),
				zap.Error(err),
			)
			if err := os.Rename(p, aside); err != nil {
				return nil, eris.Wrapf(err, "jsonfile: move aside %s", p)
			}
			entries = make(map[string]json.RawMessage)
		}
	}

	b.data[d] = entries
	out := make(map[string]json.RawMessage, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out, nil
}

// Insert adds key and rewrites the domain file. An existing key is left as is.
func (b *JSONFileBackend) Insert(_ context.Context, d Domain, key string, value json.RawMessage) error {
	p, err := b.path(d)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries, ok := b.data[d]
	if !ok {
		entries = make(map[string]json.RawMessage)
		b.data[d] = entries
	}
	if _, exists := entries[key]; exists {
		return nil
	}
	entries[key] = value

	if err := writeJSONFile(p, entries); err != nil {
		delete(entries, key)
		return err
	}
	return nil
}

// Close is a no-op; every insert is already on disk.
func (b *JSONFileBackend) Close() error { return nil }

// writeJSONFile replaces path atomically with the indented encoding of v.
func writeJSONFile(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrapf(err, "jsonfile: encode %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "jsonfile: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "jsonfile: create temp for %s", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "jsonfile: chmod %s", tmpName)
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "jsonfile: write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "jsonfile: sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "jsonfile: close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "jsonfile: rename onto %s", path)
	}
	return nil
}
