package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hfi/secret-shepherd/internal/positions"
	"github.com/hfi/secret-shepherd/internal/secrets"
)

// RedisStore is a Redis-based implementation of Store, for metadata shared
// across a team or several machines.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-based metadata store.
func NewRedisStore(address, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "shepherd:",
	}, nil
}

// secKey holds one scope's records as a hash of name -> JSON record.
func (r *RedisStore) secKey(scope string) string {
	return r.prefix + "sec:" + scope
}

func (r *RedisStore) mapKey(filePath string) string {
	return r.prefix + "map:" + filePath
}

// ListSecrets returns records matching the scope filter.
func (r *RedisStore) ListSecrets(ctx context.Context, scope string, exact bool) ([]secrets.Secret, error) {
	var keys []string
	if exact {
		keys = []string{r.secKey(scope)}
	} else {
		found, err := r.client.Keys(ctx, r.secKey(scope)+"*").Result()
		if err != nil {
			return nil, err
		}
		keys = found
	}

	var out []secrets.Secret
	for _, key := range keys {
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		for _, raw := range fields {
			var sec secrets.Secret
			if err := json.Unmarshal([]byte(raw), &sec); err != nil {
				return nil, fmt.Errorf("corrupt record in %s: %w", key, err)
			}
			out = append(out, sec)
		}
	}
	return out, nil
}

// AddSecret registers or updates a record.
func (r *RedisStore) AddSecret(ctx context.Context, sec secrets.Secret) error {
	keys, err := r.client.Keys(ctx, r.prefix+"sec:*").Result()
	if err != nil {
		return err
	}
	for _, key := range keys {
		raw, err := r.client.HGet(ctx, key, sec.Name).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}
		var existing secrets.Secret
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return fmt.Errorf("corrupt record in %s: %w", key, err)
		}
		if err := checkConflict(&existing, sec); err != nil {
			return err
		}
	}

	encoded, err := json.Marshal(sec)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.secKey(sec.FilePath), sec.Name, encoded).Err()
}

// RemoveSecrets forgets the named records within a scope.
func (r *RedisStore) RemoveSecrets(ctx context.Context, scope string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return r.client.HDel(ctx, r.secKey(scope), names...).Err()
}

// Rehash bulk-updates records after a value rotation.
func (r *RedisStore) Rehash(ctx context.Context, oldHash, newHash string, newLength int) (int, error) {
	keys, err := r.client.Keys(ctx, r.prefix+"sec:*").Result()
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, key := range keys {
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return updated, err
		}
		for name, raw := range fields {
			var sec secrets.Secret
			if err := json.Unmarshal([]byte(raw), &sec); err != nil {
				return updated, fmt.Errorf("corrupt record in %s: %w", key, err)
			}
			if sec.Hash != oldHash {
				continue
			}
			sec.Hash = newHash
			sec.Length = newLength
			encoded, err := json.Marshal(sec)
			if err != nil {
				return updated, err
			}
			if err := r.client.HSet(ctx, key, name, encoded).Err(); err != nil {
				return updated, err
			}
			updated++
		}
	}
	return updated, nil
}

// LoadMap returns the stored position map for a file.
func (r *RedisStore) LoadMap(ctx context.Context, filePath string) (positions.Map, error) {
	raw, err := r.client.Get(ctx, r.mapKey(filePath)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pm positions.Map
	if err := json.Unmarshal([]byte(raw), &pm); err != nil {
		return nil, fmt.Errorf("corrupt position map for %s: %w", filePath, err)
	}
	return pm, nil
}

// SaveMap persists a file's position map; empty deletes.
func (r *RedisStore) SaveMap(ctx context.Context, filePath string, pm positions.Map) error {
	key := r.mapKey(filePath)
	if len(pm) == 0 {
		return r.client.Del(ctx, key).Err()
	}
	encoded, err := json.Marshal(pm)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, encoded, 0).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
