package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/cwbatch/internal/atomicfile"
)

// DefaultStatePath is used when no state path is configured.
const DefaultStatePath = "~/.cwbatch/jobs.json"

// stateDoc is the on-disk layout of a FileStore.
type stateDoc struct {
	UpdatedAt time.Time `json:"updated_at"`
	Jobs      []Record  `json:"jobs"`
}

// FileStore keeps all records in one JSON document that is rewritten
// atomically on every change. The document is re-read before every operation
// so that stores sharing a path, such as "run" and a long-lived "serve", see
// each other's writes.
type FileStore struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
}

// OpenFileStore loads the document at path, or starts empty when it does not
// exist yet. A leading ~/ is expanded to the home directory.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultStatePath
	}
	p := expandHome(path)

	fs := &FileStore{path: p, records: make(map[string]Record)}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// load replaces the in-memory records with the document on disk. A missing
// document means no records.
func (f *FileStore) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.records = make(map[string]Record)
			return nil
		}
		return fmt.Errorf("read state: %w", err)
	}

	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse state %s: %w", f.path, err)
	}
	records := make(map[string]Record, len(doc.Jobs))
	for _, rec := range doc.Jobs {
		records[rec.Chunk] = rec
	}
	f.records = records
	return nil
}

// Path returns the expanded document path.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Get(_ context.Context, chunk string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return Record{}, err
	}
	rec, ok := f.records[chunk]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (f *FileStore) List(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}
	return f.sorted(), nil
}

func (f *FileStore) Put(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	prev, had := f.records[rec.Chunk]
	f.records[rec.Chunk] = rec
	if err := f.save(); err != nil {
		if had {
			f.records[rec.Chunk] = prev
		} else {
			delete(f.records, rec.Chunk)
		}
		return err
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, chunk string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	prev, ok := f.records[chunk]
	if !ok {
		return ErrNotFound
	}
	delete(f.records, chunk)
	if err := f.save(); err != nil {
		f.records[chunk] = prev
		return err
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) sorted() []Record {
	out := make([]Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

// save persists the state to disk.
func (f *FileStore) save() error {
	doc := stateDoc{UpdatedAt: time.Now().UTC(), Jobs: f.sorted()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := atomicfile.WriteBytes(f.path, append(data, '\n')); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
