package values

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hfi/secret-shepherd/internal/secrets"
)

type failingProvider struct{ typ secrets.Type }

func (p failingProvider) Type() secrets.Type { return p.typ }

func (p failingProvider) GetValue(context.Context, secrets.Secret) (string, error) {
	return "", ErrValueFetch
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("SHEPHERD_TEST_TOKEN", "ABC123XYZ")

	sec := secrets.Secret{
		Name:       "token",
		Type:       secrets.TypeEnvironment,
		Properties: map[string]string{"variable": "SHEPHERD_TEST_TOKEN"},
	}
	v, err := (EnvProvider{}).GetValue(context.Background(), sec)
	if err != nil {
		t.Fatalf("GetValue() error: %v", err)
	}
	if v != "ABC123XYZ" {
		t.Errorf("GetValue() = %q, want ABC123XYZ", v)
	}

	missing := secrets.Secret{Name: "SHEPHERD_TEST_UNSET_VAR", Type: secrets.TypeEnvironment}
	if _, err := (EnvProvider{}).GetValue(context.Background(), missing); !errors.Is(err, ErrValueFetch) {
		t.Errorf("GetValue() error = %v, want ErrValueFetch", err)
	}
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(map[string]string{"k1": "ABC123XYZ"})

	v, err := p.GetValue(context.Background(), secrets.Secret{Name: "k1"})
	if err != nil || v != "ABC123XYZ" {
		t.Errorf("GetValue() = (%q, %v), want (ABC123XYZ, nil)", v, err)
	}
	if _, err := p.GetValue(context.Background(), secrets.Secret{Name: "nope"}); !errors.Is(err, ErrValueFetch) {
		t.Errorf("GetValue() error = %v, want ErrValueFetch", err)
	}
}

func TestFetcher_PartialResults(t *testing.T) {
	reg := NewRegistry(
		NewStaticProvider(map[string]string{"k1": "ABC123XYZ"}),
		failingProvider{typ: secrets.TypeVault},
	)

	secs := []secrets.Secret{
		{Name: "k1", Type: secrets.TypeStatic},
		{Name: "broken", Type: secrets.TypeVault},  // provider fails
		{Name: "orphan", Type: secrets.TypeCustom}, // no provider
	}

	for _, parallel := range []bool{false, true} {
		f := NewFetcher(reg, parallel, zerolog.Nop())
		got := f.Fetch(context.Background(), secs)

		if len(got) != 1 || got["k1"] != "ABC123XYZ" {
			t.Errorf("parallel=%v: Fetch() = %v, want only k1", parallel, got)
		}
	}
}

func TestRegistry_Replace(t *testing.T) {
	reg := NewRegistry(failingProvider{typ: secrets.TypeStatic})
	reg.Register(NewStaticProvider(map[string]string{"k1": "v"}))

	p, ok := reg.Get(secrets.TypeStatic)
	if !ok {
		t.Fatal("Get() did not find the static provider")
	}
	if _, err := p.GetValue(context.Background(), secrets.Secret{Name: "k1"}); err != nil {
		t.Errorf("replacement provider not in effect: %v", err)
	}
}
