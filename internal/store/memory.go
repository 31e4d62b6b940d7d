package store

import (
	"context"
	"strings"
	"sync"

	"github.com/hfi/secret-shepherd/internal/positions"
	"github.com/hfi/secret-shepherd/internal/secrets"
)

// MemoryStore is an in-memory implementation of Store, used for tests and
// throwaway sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]secrets.Secret // scope -> name -> record
	maps    map[string]positions.Map             // file path -> map
}

// NewMemoryStore creates a new in-memory metadata store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]secrets.Secret),
		maps:    make(map[string]positions.Map),
	}
}

// ListSecrets returns records matching the scope filter.
func (m *MemoryStore) ListSecrets(_ context.Context, scope string, exact bool) ([]secrets.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []secrets.Secret
	for s, byName := range m.records {
		if exact {
			if s != scope {
				continue
			}
		} else if !strings.HasPrefix(s, scope) {
			continue
		}
		for _, sec := range byName {
			out = append(out, sec)
		}
	}
	return out, nil
}

// AddSecret registers or updates a record.
func (m *MemoryStore) AddSecret(_ context.Context, sec secrets.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, byName := range m.records {
		if cur, ok := byName[sec.Name]; ok {
			if err := checkConflict(&cur, sec); err != nil {
				return err
			}
		}
	}
	byName := m.records[sec.FilePath]
	if byName == nil {
		byName = make(map[string]secrets.Secret)
		m.records[sec.FilePath] = byName
	}
	byName[sec.Name] = sec
	return nil
}

// RemoveSecrets forgets the named records within a scope.
func (m *MemoryStore) RemoveSecrets(_ context.Context, scope string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byName := m.records[scope]
	for _, name := range names {
		delete(byName, name)
	}
	if len(byName) == 0 {
		delete(m.records, scope)
	}
	return nil
}

// Rehash bulk-updates records after a value rotation.
func (m *MemoryStore) Rehash(_ context.Context, oldHash, newHash string, newLength int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := 0
	for _, byName := range m.records {
		for name, sec := range byName {
			if sec.Hash == oldHash {
				sec.Hash = newHash
				sec.Length = newLength
				byName[name] = sec
				updated++
			}
		}
	}
	return updated, nil
}

// LoadMap returns the stored position map for a file.
func (m *MemoryStore) LoadMap(_ context.Context, filePath string) (positions.Map, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(positions.Map(nil), m.maps[filePath]...), nil
}

// SaveMap persists a file's position map; empty deletes.
func (m *MemoryStore) SaveMap(_ context.Context, filePath string, pm positions.Map) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(pm) == 0 {
		delete(m.maps, filePath)
		return nil
	}
	m.maps[filePath] = append(positions.Map(nil), pm...)
	return nil
}

// Close releases resources (none for the memory backend).
func (m *MemoryStore) Close() error {
	return nil
}
