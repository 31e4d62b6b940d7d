// Package store persists secret records and position maps. The record side
// is the external metadata contract; position maps are the per-file cache
// the reconciler rebuilds.
package store

import (
	"context"
	"fmt"

	"github.com/hfi/secret-shepherd/internal/config"
	"github.com/hfi/secret-shepherd/internal/positions"
	"github.com/hfi/secret-shepherd/internal/secrets"
)

// Store defines the interface for metadata backends.
type Store interface {
	// ListSecrets returns the records whose scope matches. With exact set
	// the scope must match the record's file path exactly; otherwise it is
	// a prefix filter, and an empty scope lists everything.
	ListSecrets(ctx context.Context, scope string, exact bool) ([]secrets.Secret, error)

	// AddSecret registers a record. Re-adding an identical name/hash pair
	// updates the record in place. The name/hash pairing is store-wide: the
	// same name with a different hash in any scope is rejected with
	// secrets.ErrNameConflict so the caller can prompt for another name.
	AddSecret(ctx context.Context, sec secrets.Secret) error

	// RemoveSecrets forgets the named records within a scope.
	RemoveSecrets(ctx context.Context, scope string, names []string) error

	// Rehash bulk-updates every record matching oldHash to the new
	// hash/length pair (value rotation). Returns the number of records
	// updated.
	Rehash(ctx context.Context, oldHash, newHash string, newLength int) (int, error)

	// LoadMap returns the persisted position map for a file, or nil.
	LoadMap(ctx context.Context, filePath string) (positions.Map, error)

	// SaveMap persists a file's position map; an empty map deletes it.
	SaveMap(ctx context.Context, filePath string, m positions.Map) error

	// Close releases any resources
	Close() error
}

// Open builds the backend selected by configuration.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "redis":
		return NewRedisStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// checkConflict applies the add semantics shared by all backends: nil for a
// brand-new name, nil for a hash-agreeing record (identical re-add, or the
// same secret registered for another file), conflict otherwise. Backends
// apply it to every record carrying the name, whatever its scope, so one
// name always resolves to one fingerprint.
func checkConflict(existing *secrets.Secret, incoming secrets.Secret) error {
	if existing == nil || existing.Hash == incoming.Hash {
		return nil
	}
	return fmt.Errorf("%w: %q in %s", secrets.ErrNameConflict, incoming.Name, incoming.FilePath)
}
