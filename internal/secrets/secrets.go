// Package secrets defines the secret metadata model. A record carries a
// salted fingerprint and the plaintext length, never the value itself.
package secrets

import (
	"errors"
	"fmt"
	"time"

	"github.com/hfi/secret-shepherd/internal/hashing"
	"github.com/hfi/secret-shepherd/pkg/anchor"
)

// Type tags a secret's provenance. The core never branches on it; it only
// selects a value-fetch strategy in the values registry.
type Type string

const (
	TypeUnknown     Type = "unknown"
	TypeEnvironment Type = "environment"
	TypeStatic      Type = "static"
	TypeVault       Type = "vault"
	TypeStorageKey  Type = "storage-key"
	TypeCustom      Type = "custom"
)

// ControlType decides whether the tool may touch a secret's value.
type ControlType string

const (
	// Managed secrets may be stashed, unstashed and fetched automatically.
	Managed ControlType = "managed"
	// Supervised secrets are tracked for masking only; the user owns the
	// value lifecycle and rotation.
	Supervised ControlType = "supervised"
)

// Reserved sentinel scopes for secrets whose position is not bound to a file.
const (
	EnvScope      = "shepherd://env"
	ShortcutScope = "shepherd://shortcuts"
)

var (
	// ErrNameConflict means a record with the same name but a different
	// fingerprint already exists in the scope. Never silently overwritten;
	// the caller prompts for another name.
	ErrNameConflict = errors.New("secret name already registered with a different value")

	// ErrSecretTooShort rejects trivial values at creation time.
	ErrSecretTooShort = errors.New("secret value is shorter than the configured minimum")

	// ErrPathTooLong rejects scopes beyond the configured path limit.
	ErrPathTooLong = errors.New("file path exceeds the configured maximum length")

	// ErrReservedValue rejects values starting with the anchor prefix.
	ErrReservedValue = errors.New("secret value starts with the reserved anchor prefix")

	// ErrBadName rejects names the anchor syntax cannot carry.
	ErrBadName = errors.New("secret name contains characters not allowed in an anchor")
)

// Limits holds the creation-time policy values. They are configuration,
// not algorithmic necessities.
type Limits struct {
	MinSecretLength int
	MaxPathLength   int
}

// DefaultLimits returns the default policy values.
func DefaultLimits() Limits {
	return Limits{MinSecretLength: 6, MaxPathLength: 4096}
}

// Secret is one tracked secret. Immutable once created; the hash/length
// pair changes only through an explicit rotation, and removal is explicit.
type Secret struct {
	Name        string            `json:"name"`
	Type        Type              `json:"type"`
	ControlType ControlType       `json:"controlType"`
	FilePath    string            `json:"filePath"`
	Hash        string            `json:"hash"`
	Length      int               `json:"length"`
	Timestamp   time.Time         `json:"timestamp"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// New validates a plaintext value and builds its record. The value is
// fingerprinted and discarded; only hash and length are retained.
func New(name, value, filePath string, typ Type, ctl ControlType, hasher *hashing.Service, syntax *anchor.Syntax, limits Limits) (Secret, error) {
	if !syntax.ValidName(name) {
		return Secret{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if len(value) < limits.MinSecretLength {
		return Secret{}, fmt.Errorf("%w: need at least %d characters", ErrSecretTooShort, limits.MinSecretLength)
	}
	if len(filePath) > limits.MaxPathLength {
		return Secret{}, fmt.Errorf("%w: %d > %d", ErrPathTooLong, len(filePath), limits.MaxPathLength)
	}
	if syntax.ReservedValue(value) {
		return Secret{}, fmt.Errorf("%w (%s)", ErrReservedValue, syntax.Prefix())
	}
	if typ == "" {
		typ = TypeUnknown
	}
	if ctl == "" {
		ctl = Managed
	}
	return Secret{
		Name:        name,
		Type:        typ,
		ControlType: ctl,
		FilePath:    filePath,
		Hash:        hasher.Hash(value),
		Length:      len(value),
		Timestamp:   time.Now().UTC(),
	}, nil
}

// IsManaged reports whether the tool may stash/unstash this secret.
func (s Secret) IsManaged() bool {
	return s.ControlType == Managed
}

// FileBound reports whether the secret's position belongs to a real file.
func (s Secret) FileBound() bool {
	return s.FilePath != EnvScope && s.FilePath != ShortcutScope
}
