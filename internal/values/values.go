// Package values resolves live secret values through pluggable providers.
// The core never branches on a secret's type itself; it asks the registry
// for the provider registered under that type and treats the call as
// opaque, possibly slow, possibly failing.
package values

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hfi/secret-shepherd/internal/secrets"
)

// ErrValueFetch marks a provider failure. Non-fatal to reconciliation,
// which degrades to hash-only matching.
var ErrValueFetch = errors.New("secret value fetch failed")

// Provider is the capability interface one backend implements.
type Provider interface {
	// Type returns the secret type this provider serves.
	Type() secrets.Type

	// GetValue returns the live plaintext for a record.
	GetValue(ctx context.Context, sec secrets.Secret) (string, error)
}

// Registry dispatches value fetches by secret type.
type Registry struct {
	providers map[secrets.Type]Provider
}

// NewRegistry creates a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[secrets.Type]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, replacing any previous one for the same type.
func (r *Registry) Register(p Provider) {
	r.providers[p.Type()] = p
}

// Get returns the provider for a secret type.
func (r *Registry) Get(typ secrets.Type) (Provider, bool) {
	p, ok := r.providers[typ]
	return p, ok
}

// EnvProvider resolves environment-variable secrets. The variable name
// comes from the record's "variable" property, falling back to the secret
// name itself.
type EnvProvider struct{}

// Type returns the secret type this provider serves.
func (EnvProvider) Type() secrets.Type { return secrets.TypeEnvironment }

// GetValue reads the backing environment variable.
func (EnvProvider) GetValue(_ context.Context, sec secrets.Secret) (string, error) {
	name := sec.Properties["variable"]
	if name == "" {
		name = sec.Name
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("%w: environment variable %q not set", ErrValueFetch, name)
	}
	return v, nil
}

// StaticProvider serves values supplied directly (config or flags),
// keyed by secret name.
type StaticProvider struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStaticProvider creates a provider over a name -> value map.
func NewStaticProvider(values map[string]string) *StaticProvider {
	if values == nil {
		values = make(map[string]string)
	}
	return &StaticProvider{values: values}
}

// Type returns the secret type this provider serves.
func (*StaticProvider) Type() secrets.Type { return secrets.TypeStatic }

// Set adds or replaces a value.
func (s *StaticProvider) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// GetValue returns the configured value for a secret name.
func (s *StaticProvider) GetValue(_ context.Context, sec secrets.Secret) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[sec.Name]
	if !ok {
		return "", fmt.Errorf("%w: no static value for %q", ErrValueFetch, sec.Name)
	}
	return v, nil
}

// Fetcher resolves the name -> value map for a set of records. Fetches run
// sequentially unless parallel is enabled; some value backends' auth stacks
// are not race-safe, so sequential is the default policy.
type Fetcher struct {
	registry *Registry
	parallel bool
	log      zerolog.Logger
}

// NewFetcher creates a Fetcher over a registry.
func NewFetcher(registry *Registry, parallel bool, log zerolog.Logger) *Fetcher {
	return &Fetcher{registry: registry, parallel: parallel, log: log}
}

// Fetch resolves values for every record it can. Failures and unregistered
// types are logged and skipped: the result may be partial or empty, and the
// reconciler falls back to fingerprint matching for the gaps.
func (f *Fetcher) Fetch(ctx context.Context, secs []secrets.Secret) map[string]string {
	out := make(map[string]string, len(secs))
	if f.parallel {
		f.fetchParallel(ctx, secs, out)
		return out
	}
	for _, sec := range secs {
		if v, ok := f.fetchOne(ctx, sec); ok {
			out[sec.Name] = v
		}
	}
	return out
}

func (f *Fetcher) fetchParallel(ctx context.Context, secs []secrets.Secret, out map[string]string) {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, sec := range secs {
		sec := sec
		g.Go(func() error {
			if v, ok := f.fetchOne(ctx, sec); ok {
				mu.Lock()
				out[sec.Name] = v
				mu.Unlock()
			}
			return nil
		})
	}
	// Workers never return errors; failures degrade to hash-only matching.
	_ = g.Wait()
}

func (f *Fetcher) fetchOne(ctx context.Context, sec secrets.Secret) (string, bool) {
	p, ok := f.registry.Get(sec.Type)
	if !ok {
		f.log.Debug().Str("secret", sec.Name).Str("type", string(sec.Type)).
			Msg("no value provider registered")
		return "", false
	}
	v, err := p.GetValue(ctx, sec)
	if err != nil {
		f.log.Warn().Err(err).Str("secret", sec.Name).
			Msg("value fetch failed; degrading to hash-only matching")
		return "", false
	}
	return v, true
}
