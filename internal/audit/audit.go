// Package audit records an operation trail for the metadata subsystem.
// Events never include secret values or fingerprints, only names and counts.
package audit

import (
	"github.com/rs/zerolog"

	"github.com/hfi/secret-shepherd/internal/config"
)

// EventType represents the type of audit event
type EventType string

const (
	EventSecretAdded     EventType = "secret_added"
	EventSecretForgotten EventType = "secret_forgotten"
	EventSecretRotated   EventType = "secret_rotated"
	EventStash           EventType = "stash"
	EventUnstash         EventType = "unstash"
	EventMask            EventType = "mask"
	EventReconcile       EventType = "reconcile"
	EventAnchorsResolved EventType = "anchors_resolved"
	EventGuardChanged    EventType = "guard_changed"
)

// Logger writes audit events through zerolog.
type Logger struct {
	log     zerolog.Logger
	enabled bool
	level   string
}

// NewLogger creates an audit logger over a zerolog sink.
func NewLogger(cfg config.AuditConfig, log zerolog.Logger) *Logger {
	level := cfg.Level
	if level == "" {
		level = "standard"
	}
	return &Logger{
		log:     log.With().Str("component", "audit").Logger(),
		enabled: cfg.Enabled,
		level:   level,
	}
}

// Nop returns a disabled audit logger.
func Nop() *Logger {
	return &Logger{log: zerolog.Nop()}
}

func (l *Logger) shouldLog(eventType EventType) bool {
	if !l.enabled {
		return false
	}
	switch l.level {
	case "minimal":
		// Only the destructive text rewrites.
		return eventType == EventStash || eventType == EventUnstash
	case "standard":
		return eventType != EventMask && eventType != EventReconcile
	default: // verbose
		return true
	}
}

// Event starts an audit record of the given type, or a discarded one when
// filtered out by level.
func (l *Logger) Event(eventType EventType, filePath string) *zerolog.Event {
	if !l.shouldLog(eventType) {
		nop := zerolog.Nop()
		return nop.Info()
	}
	e := l.log.Info().Str("event", string(eventType))
	if filePath != "" {
		e = e.Str("file", filePath)
	}
	return e
}

// SecretAdded records a new or updated record.
func (l *Logger) SecretAdded(filePath, name string) {
	l.Event(EventSecretAdded, filePath).Str("secret", name).Msg("audit")
}

// SecretsForgotten records explicit removal.
func (l *Logger) SecretsForgotten(filePath string, names []string) {
	l.Event(EventSecretForgotten, filePath).Strs("secrets", names).Msg("audit")
}

// Rotated records a bulk rehash.
func (l *Logger) Rotated(updated int) {
	l.Event(EventSecretRotated, "").Int("records", updated).Msg("audit")
}

// StashStateChanged records a stash or unstash pass.
func (l *Logger) StashStateChanged(eventType EventType, filePath string, replaced int, missing []string) {
	e := l.Event(eventType, filePath).Int("replaced", replaced)
	if len(missing) > 0 {
		e = e.Strs("missing", missing)
	}
	e.Msg("audit")
}

// Reconciled records a position map rebuild.
func (l *Logger) Reconciled(filePath string, entries int, missing []string) {
	e := l.Event(EventReconcile, filePath).Int("entries", entries)
	if len(missing) > 0 {
		e = e.Strs("missing", missing)
	}
	e.Msg("audit")
}

// Masked records a mask pass.
func (l *Logger) Masked(filePath string, ranges int, missing []string) {
	e := l.Event(EventMask, filePath).Int("ranges", ranges)
	if len(missing) > 0 {
		e = e.Strs("missing", missing)
	}
	e.Msg("audit")
}

// AnchorsResolved records registration of anchors found in a file.
func (l *Logger) AnchorsResolved(filePath string, names []string) {
	l.Event(EventAnchorsResolved, filePath).Strs("secrets", names).Msg("audit")
}
