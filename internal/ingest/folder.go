package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"pc-deal-watch/internal/domain"
)

// ListingSource yields parsed secondhand listings.
type ListingSource interface {
	Name() string
	Listings(ctx context.Context) ([]domain.Listing, error)
}

// Committer is implemented by sources that must acknowledge what they
// handed out once the batch has been durably processed.
type Committer interface {
	Commit(ctx context.Context) error
}

// Folder imports every .jsonl, .json and .csv file of a directory.
type Folder struct {
	dir     string
	archive bool
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []string
}

// NewFolder builds a folder source. With archive set, Commit moves imported
// files into <dir>/archive so they are not imported twice.
func NewFolder(dir string, archive bool, logger zerolog.Logger) *Folder {
	return &Folder{dir: dir, archive: archive, logger: logger.With().Str("component", "folder_import").Logger()}
}

// Name implements ListingSource.
func (f *Folder) Name() string { return string(domain.SourceSubitoImport) }

// Listings reads the folder. A missing folder yields nothing; a broken file
// is logged and skipped.
func (f *Folder) Listings(ctx context.Context) ([]domain.Listing, error) {
	entries, err := os.ReadDir(f.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read import dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		out  []domain.Listing
		read []string
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		path := filepath.Join(f.dir, name)
		listings, ok, err := ReadFile(path, domain.SourceSubitoImport)
		if !ok {
			continue
		}
		if err != nil {
			f.logger.Warn().Err(err).Str("file", path).Msg("import file skipped")
			continue
		}
		f.logger.Info().Str("file", path).Int("listings", len(listings)).Msg("import file read")
		out = append(out, listings...)
		read = append(read, path)
	}

	f.mu.Lock()
	f.pending = read
	f.mu.Unlock()
	return out, nil
}

// Commit archives the files returned by the last Listings call.
func (f *Folder) Commit(_ context.Context) error {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	if !f.archive || len(pending) == 0 {
		return nil
	}
	archiveDir := filepath.Join(f.dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	for _, path := range pending {
		if err := os.Rename(path, filepath.Join(archiveDir, filepath.Base(path))); err != nil {
			return fmt.Errorf("archive %s: %w", path, err)
		}
	}
	return nil
}

// ReadFile parses one import file. ok is false for unsupported extensions.
func ReadFile(path string, source domain.Source) ([]domain.Listing, bool, error) {
	read, ok := readerFor(path)
	if !ok {
		return nil, false, nil
	}
	records, err := readAll(path, read)
	if err != nil {
		return nil, true, err
	}
	out := make([]domain.Listing, 0, len(records))
	for _, rec := range records {
		out = append(out, fromRecord(rec, source))
	}
	return out, true, nil
}

// ReadPriceFile parses a new-price history export (.jsonl, .json or .csv)
// for seeding. Rows without a recognised source get fallback.
func ReadPriceFile(path string, fallback domain.Source) ([]domain.RawObservation, error) {
	read, ok := readerFor(path)
	if !ok {
		return nil, fmt.Errorf("unsupported file type %s", filepath.Ext(path))
	}
	records, err := readAll(path, read)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RawObservation, 0, len(records))
	for _, rec := range records {
		out = append(out, fromPriceRecord(rec, fallback))
	}
	return out, nil
}

func readerFor(path string) (func(io.Reader) ([]map[string]any, error), bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return readJSONL, true
	case ".json":
		return readJSON, true
	case ".csv":
		return readCSV, true
	}
	return nil, false
}

func readAll(path string, read func(io.Reader) ([]map[string]any, error)) ([]map[string]any, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	records, err := read(fh)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return records, nil
}

func readJSONL(r io.Reader) ([]map[string]any, error) {
	var out []map[string]any
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// readJSON accepts a list, an {"items": [...]} wrapper or a single object.
func readJSON(r io.Reader) ([]map[string]any, error) {
	var data any
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, err
	}
	var list []any
	switch v := data.(type) {
	case []any:
		list = v
	case map[string]any:
		if items, ok := v["items"].([]any); ok {
			list = items
		} else {
			return []map[string]any{v}, nil
		}
	default:
		return nil, nil
	}

	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func readCSV(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}

	var out []map[string]any
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
}

var (
	_ ListingSource = (*Folder)(nil)
	_ Committer     = (*Folder)(nil)
)
