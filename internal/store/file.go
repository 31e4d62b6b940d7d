package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hfi/secret-shepherd/internal/positions"
	"github.com/hfi/secret-shepherd/internal/secrets"
)

// FileStore keeps metadata in one local JSON document. It is the default
// backend for a single-machine installation.
type FileStore struct {
	mu   sync.Mutex
	path string
	data fileData
}

type fileData struct {
	Secrets []secrets.Secret         `json:"secrets"`
	Maps    map[string]positions.Map `json:"maps"`
}

// NewFileStore opens or creates the JSON document at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: fileData{Maps: make(map[string]positions.Map)},
	}

	raw, err := os.ReadFile(path) //#nosec G304 -- path comes from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(raw, &fs.data); err != nil {
		return nil, fmt.Errorf("failed to parse metadata file: %w", err)
	}
	if fs.data.Maps == nil {
		fs.data.Maps = make(map[string]positions.Map)
	}
	return fs, nil
}

// persist writes the document via temp file + rename. Callers hold the lock.
func (f *FileStore) persist() error {
	raw, err := json.MarshalIndent(&f.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// ListSecrets returns records matching the scope filter.
func (f *FileStore) ListSecrets(_ context.Context, scope string, exact bool) ([]secrets.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []secrets.Secret
	for _, sec := range f.data.Secrets {
		if exact {
			if sec.FilePath != scope {
				continue
			}
		} else if !strings.HasPrefix(sec.FilePath, scope) {
			continue
		}
		out = append(out, sec)
	}
	return out, nil
}

// AddSecret registers or updates a record.
func (f *FileStore) AddSecret(_ context.Context, sec secrets.Secret) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := -1
	for i, cur := range f.data.Secrets {
		if cur.Name != sec.Name {
			continue
		}
		if err := checkConflict(&cur, sec); err != nil {
			return err
		}
		if cur.FilePath == sec.FilePath {
			idx = i
		}
	}
	if idx >= 0 {
		f.data.Secrets[idx] = sec
	} else {
		f.data.Secrets = append(f.data.Secrets, sec)
	}
	return f.persist()
}

// RemoveSecrets forgets the named records within a scope.
func (f *FileStore) RemoveSecrets(_ context.Context, scope string, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doomed := make(map[string]bool, len(names))
	for _, name := range names {
		doomed[name] = true
	}
	kept := f.data.Secrets[:0]
	for _, sec := range f.data.Secrets {
		if sec.FilePath == scope && doomed[sec.Name] {
			continue
		}
		kept = append(kept, sec)
	}
	f.data.Secrets = kept
	return f.persist()
}

// Rehash bulk-updates records after a value rotation.
func (f *FileStore) Rehash(_ context.Context, oldHash, newHash string, newLength int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	updated := 0
	for i, sec := range f.data.Secrets {
		if sec.Hash == oldHash {
			f.data.Secrets[i].Hash = newHash
			f.data.Secrets[i].Length = newLength
			updated++
		}
	}
	if updated == 0 {
		return 0, nil
	}
	return updated, f.persist()
}

// LoadMap returns the stored position map for a file.
func (f *FileStore) LoadMap(_ context.Context, filePath string) (positions.Map, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(positions.Map(nil), f.data.Maps[filePath]...), nil
}

// SaveMap persists a file's position map; empty deletes.
func (f *FileStore) SaveMap(_ context.Context, filePath string, pm positions.Map) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(pm) == 0 {
		delete(f.data.Maps, filePath)
	} else {
		f.data.Maps[filePath] = append(positions.Map(nil), pm...)
	}
	return f.persist()
}

// Close releases resources (none for the file backend).
func (f *FileStore) Close() error {
	return nil
}
