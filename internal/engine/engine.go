// Package engine coordinates file-level operations: mask, stash, unstash,
// resolve and forget. It owns the ordering rules: one operation at a time
// per file, a position-map rebuild after every destructive rewrite, and
// persistence of the rebuilt map before the operation returns.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hfi/secret-shepherd/internal/audit"
	"github.com/hfi/secret-shepherd/internal/githook"
	"github.com/hfi/secret-shepherd/internal/hashing"
	"github.com/hfi/secret-shepherd/internal/metrics"
	"github.com/hfi/secret-shepherd/internal/positions"
	"github.com/hfi/secret-shepherd/internal/secrets"
	"github.com/hfi/secret-shepherd/internal/stash"
	"github.com/hfi/secret-shepherd/internal/store"
	"github.com/hfi/secret-shepherd/internal/values"
	"github.com/hfi/secret-shepherd/pkg/anchor"
)

// bulkLimit caps concurrent file operations during bulk stash/unstash.
const bulkLimit = 8

// Engine runs the core operations against one metadata store.
type Engine struct {
	store   store.Store
	hasher  *hashing.Service
	syntax  *anchor.Syntax
	fetcher *values.Fetcher
	hook    githook.Notifier
	audit   *audit.Logger
	limits  secrets.Limits
	log     zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New assembles an engine. A nil hook or audit logger is replaced with a
// no-op implementation.
func New(st store.Store, hasher *hashing.Service, syntax *anchor.Syntax, fetcher *values.Fetcher,
	hook githook.Notifier, auditLog *audit.Logger, limits secrets.Limits, log zerolog.Logger) *Engine {
	if hook == nil {
		hook = githook.NopNotifier{}
	}
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	return &Engine{
		store:   st,
		hasher:  hasher,
		syntax:  syntax,
		fetcher: fetcher,
		hook:    hook,
		audit:   auditLog,
		limits:  limits,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFile serializes operations per file. Operations on distinct files
// proceed concurrently; the reconciler and transformer share no mutable
// state beyond the read-only salt and the store.
func (e *Engine) lockFile(filePath string) func() {
	e.mu.Lock()
	l, ok := e.locks[filePath]
	if !ok {
		l = &sync.Mutex{}
		e.locks[filePath] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func track(operation string) func() {
	start := time.Now()
	return func() {
		metrics.RecordOperationDuration(operation, time.Since(start).Seconds())
	}
}

// AddSecret validates and registers a new secret, then refreshes the file's
// position map so the secret is immediately maskable.
func (e *Engine) AddSecret(ctx context.Context, name, value, filePath string, typ secrets.Type, ctl secrets.ControlType) (secrets.Secret, error) {
	sec, err := secrets.New(name, value, filePath, typ, ctl, e.hasher, e.syntax, e.limits)
	if err != nil {
		return secrets.Secret{}, err
	}
	if err := e.store.AddSecret(ctx, sec); err != nil {
		return secrets.Secret{}, err
	}
	e.audit.SecretAdded(filePath, name)
	e.refreshTrackedGauge(ctx)

	if sec.FileBound() {
		if _, _, err := e.Reconcile(ctx, filePath); err != nil {
			// The record is registered; a failed rebuild only delays masking.
			e.log.Warn().Err(err).Str("file", filePath).Msg("post-add reconcile failed")
		}
	}
	return sec, nil
}

// Forget removes records from a scope and rebuilds or deletes its map.
func (e *Engine) Forget(ctx context.Context, filePath string, names []string) error {
	unlock := e.lockFile(filePath)
	defer unlock()

	if err := e.store.RemoveSecrets(ctx, filePath, names); err != nil {
		return err
	}
	e.audit.SecretsForgotten(filePath, names)
	e.refreshTrackedGauge(ctx)

	remaining, err := e.store.ListSecrets(ctx, filePath, true)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return e.store.SaveMap(ctx, filePath, nil)
	}
	_, _, err = e.reconcileLocked(ctx, filePath)
	return err
}

// Reconcile rebuilds and persists the position map for a file.
func (e *Engine) Reconcile(ctx context.Context, filePath string) (positions.Map, []string, error) {
	unlock := e.lockFile(filePath)
	defer unlock()
	return e.reconcileLocked(ctx, filePath)
}

func (e *Engine) reconcileLocked(ctx context.Context, filePath string) (positions.Map, []string, error) {
	defer track("reconcile")()

	text, err := readFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	secs, err := e.store.ListSecrets(ctx, filePath, true)
	if err != nil {
		return nil, nil, err
	}
	if len(secs) == 0 {
		return nil, nil, e.store.SaveMap(ctx, filePath, nil)
	}

	vals := e.fetcher.Fetch(ctx, secs)
	m, missing := positions.Reconcile(text, secs, vals, e.hasher, e.syntax)

	// The rebuilt map must be persisted before any mask pass reads it.
	if err := e.store.SaveMap(ctx, filePath, m); err != nil {
		return nil, nil, err
	}

	metrics.ReconcileRunsTotal.Inc()
	metrics.RecordMissing("reconcile", len(missing))
	e.audit.Reconciled(filePath, len(m), missing)
	return m, missing, nil
}

// Mask computes hide-ranges for a file. Entries that fail validation
// trigger one full reconcile and retry; whatever still fails is reported
// missing, never hidden.
func (e *Engine) Mask(ctx context.Context, filePath string) (positions.MaskResult, error) {
	unlock := e.lockFile(filePath)
	defer unlock()
	defer track("mask")()

	text, err := readFile(filePath)
	if err != nil {
		return positions.MaskResult{}, err
	}
	m, err := e.store.LoadMap(ctx, filePath)
	if err != nil {
		return positions.MaskResult{}, err
	}

	res := positions.Mask(text, m, e.hasher, e.syntax)
	if len(m) == 0 || len(res.Missing) > 0 {
		var stillMissing []string
		m, stillMissing, err = e.reconcileLocked(ctx, filePath)
		if err != nil {
			return positions.MaskResult{}, err
		}
		res = positions.Mask(text, m, e.hasher, e.syntax)
		// Secrets the full rescan could not place stay missing.
		res.Missing = mergeNames(res.Missing, stillMissing)
	}

	metrics.HideRangesTotal.Add(float64(len(res.Ranges)))
	metrics.RecordMissing("mask", len(res.Missing))
	e.audit.Masked(filePath, len(res.Ranges), res.Missing)
	return res, nil
}

// Stash rewrites the file, replacing managed secret values with anchors.
func (e *Engine) Stash(ctx context.Context, filePath string) (stash.Result, error) {
	return e.transform(ctx, filePath, stash.Stash)
}

// Unstash rewrites the file, replacing anchors with managed secret values.
func (e *Engine) Unstash(ctx context.Context, filePath string) (stash.Result, error) {
	return e.transform(ctx, filePath, stash.Unstash)
}

func (e *Engine) transform(ctx context.Context, filePath string, dir stash.Direction) (stash.Result, error) {
	unlock := e.lockFile(filePath)
	defer unlock()
	defer track(dir.String())()

	text, err := readFile(filePath)
	if err != nil {
		return stash.Result{}, err
	}
	secs, err := e.store.ListSecrets(ctx, filePath, true)
	if err != nil {
		return stash.Result{}, err
	}

	// Only managed secrets participate; supervised ones are never
	// auto-transformed.
	managed := make([]secrets.Secret, 0, len(secs))
	for _, sec := range secs {
		if sec.IsManaged() {
			managed = append(managed, sec)
		}
	}
	vals := e.fetcher.Fetch(ctx, managed)

	res := stash.Transform(text, vals, dir, e.syntax)

	// The full new text is computed in memory before the first byte is
	// written; the write itself is temp-file + rename.
	if res.Changed() {
		if err := writeFileAtomic(filePath, res.Text); err != nil {
			return stash.Result{}, err
		}
	}

	// Positions universally shift after the rewrite: rebuild against the
	// new text and persist before returning.
	m, _ := positions.Reconcile(res.Text, secs, vals, e.hasher, e.syntax)
	if err := e.store.SaveMap(ctx, filePath, m); err != nil {
		return stash.Result{}, err
	}
	metrics.ReconcileRunsTotal.Inc()

	e.notifyGuard(filePath, res.Text, m, secs)

	if dir == stash.Stash {
		metrics.SecretsStashedTotal.Add(float64(res.Replaced))
		e.audit.StashStateChanged(audit.EventStash, filePath, res.Replaced, res.Missing)
	} else {
		metrics.SecretsUnstashedTotal.Add(float64(res.Replaced))
		e.audit.StashStateChanged(audit.EventUnstash, filePath, res.Replaced, res.Missing)
	}
	metrics.RecordMissing(dir.String(), len(res.Missing))
	return res, nil
}

// notifyGuard tells the git hook collaborator whether the file still
// contains live managed secret values.
func (e *Engine) notifyGuard(filePath, text string, m positions.Map, secs []secrets.Secret) {
	managed := make(map[string]bool, len(secs))
	for _, sec := range secs {
		if sec.IsManaged() {
			managed[sec.Name] = true
		}
	}
	var managedEntries positions.Map
	for _, entry := range m {
		if managed[entry.Name] {
			managedEntries = append(managedEntries, entry)
		}
	}
	// A validated hide-range over a managed entry means a live value is
	// sitting in the text.
	res := positions.Mask(text, managedEntries, e.hasher, e.syntax)
	e.hook.OnStashStateChanged(filePath, len(res.Ranges) > 0)
}

// BulkResult reports a multi-file operation. Per-file failures do not
// abort the remaining files.
type BulkResult struct {
	Processed []string
	Failed    map[string]error
}

// StashAll stashes every tracked file.
func (e *Engine) StashAll(ctx context.Context) (BulkResult, error) {
	return e.transformAll(ctx, stash.Stash)
}

// UnstashAll unstashes every tracked file.
func (e *Engine) UnstashAll(ctx context.Context) (BulkResult, error) {
	return e.transformAll(ctx, stash.Unstash)
}

func (e *Engine) transformAll(ctx context.Context, dir stash.Direction) (BulkResult, error) {
	files, err := e.TrackedFiles(ctx)
	if err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{Failed: make(map[string]error)}
	var mu sync.Mutex

	// Files share no file-local state, so they proceed in parallel.
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkLimit)
	for _, filePath := range files {
		filePath := filePath
		g.Go(func() error {
			_, err := e.transform(ctx, filePath, dir)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[filePath] = err
			} else {
				res.Processed = append(res.Processed, filePath)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Processed)
	return res, nil
}

// ResolveAnchors scans a file for anchor tokens whose names are not yet
// registered for it and adopts matching records from other scopes. Returns
// the newly registered names.
func (e *Engine) ResolveAnchors(ctx context.Context, filePath string) ([]string, error) {
	unlock := e.lockFile(filePath)
	defer unlock()

	text, err := readFile(filePath)
	if err != nil {
		return nil, err
	}
	refs := e.syntax.FindAll(text)
	if len(refs) == 0 {
		return nil, nil
	}

	local, err := e.store.ListSecrets(ctx, filePath, true)
	if err != nil {
		return nil, err
	}
	registered := make(map[string]bool, len(local))
	for _, sec := range local {
		registered[sec.Name] = true
	}

	all, err := e.store.ListSecrets(ctx, "", false)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]secrets.Secret, len(all))
	for _, sec := range all {
		if _, ok := byName[sec.Name]; !ok {
			byName[sec.Name] = sec
		}
	}

	var adopted []string
	for _, ref := range refs {
		if registered[ref.Name] {
			continue
		}
		src, ok := byName[ref.Name]
		if !ok {
			continue
		}
		src.FilePath = filePath
		src.Timestamp = time.Now().UTC()
		if err := e.store.AddSecret(ctx, src); err != nil {
			return adopted, err
		}
		registered[ref.Name] = true
		adopted = append(adopted, ref.Name)
	}

	if len(adopted) > 0 {
		e.audit.AnchorsResolved(filePath, adopted)
		if _, _, err := e.reconcileLocked(ctx, filePath); err != nil {
			return adopted, err
		}
	}
	return adopted, nil
}

// Rotate updates every record matching oldHash to the fingerprint of the
// new value. Identity and names are unchanged.
func (e *Engine) Rotate(ctx context.Context, oldHash, newValue string) (int, error) {
	if len(newValue) < e.limits.MinSecretLength {
		return 0, fmt.Errorf("%w: need at least %d characters", secrets.ErrSecretTooShort, e.limits.MinSecretLength)
	}
	if e.syntax.ReservedValue(newValue) {
		return 0, fmt.Errorf("%w (%s)", secrets.ErrReservedValue, e.syntax.Prefix())
	}
	updated, err := e.store.Rehash(ctx, oldHash, e.hasher.Hash(newValue), len(newValue))
	if err != nil {
		return 0, err
	}
	e.audit.Rotated(updated)
	return updated, nil
}

// TrackedFiles returns the distinct file paths that have registered
// secrets, excluding the reserved sentinel scopes.
func (e *Engine) TrackedFiles(ctx context.Context) ([]string, error) {
	all, err := e.store.ListSecrets(ctx, "", false)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var files []string
	for _, sec := range all {
		if !sec.FileBound() || seen[sec.FilePath] {
			continue
		}
		seen[sec.FilePath] = true
		files = append(files, sec.FilePath)
	}
	sort.Strings(files)
	return files, nil
}

// ListSecrets exposes the store's listing for the CLI.
func (e *Engine) ListSecrets(ctx context.Context, scope string, exact bool) ([]secrets.Secret, error) {
	return e.store.ListSecrets(ctx, scope, exact)
}

func (e *Engine) refreshTrackedGauge(ctx context.Context) {
	all, err := e.store.ListSecrets(ctx, "", false)
	if err != nil {
		return
	}
	metrics.TrackedSecrets.Set(float64(len(all)))
}

func mergeNames(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a))
	for _, n := range a {
		seen[n] = true
	}
	for _, n := range b {
		if !seen[n] {
			seen[n] = true
			a = append(a, n)
		}
	}
	return a
}

func readFile(filePath string) (string, error) {
	data, err := os.ReadFile(filePath) //#nosec G304 -- operating on user-named workspace files is the point
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", filePath, err)
	}
	return string(data), nil
}

// writeFileAtomic writes via temp file + rename in the target directory,
// preserving the original mode. Rename is as close to atomic as the
// platform allows; no multi-phase commit is attempted.
func writeFileAtomic(filePath, text string) error {
	mode := os.FileMode(0o600)
	if info, err := os.Stat(filePath); err == nil {
		mode = info.Mode()
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".shepherd-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
