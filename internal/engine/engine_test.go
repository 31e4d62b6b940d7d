package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfi/secret-shepherd/internal/hashing"
	"github.com/hfi/secret-shepherd/internal/secrets"
	"github.com/hfi/secret-shepherd/internal/store"
	"github.com/hfi/secret-shepherd/internal/values"
	"github.com/hfi/secret-shepherd/pkg/anchor"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls map[string]bool // last state per file
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{calls: make(map[string]bool)}
}

func (r *recordingNotifier) OnStashStateChanged(filePath string, hasUnstashed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[filePath] = hasUnstashed
}

func (r *recordingNotifier) last(filePath string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.calls[filePath]
	return v, ok
}

type fixture struct {
	eng      *Engine
	static   *values.StaticProvider
	notifier *recordingNotifier
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hasher, err := hashing.Open(t.TempDir())
	require.NoError(t, err)
	syntax, err := anchor.NewSyntax("")
	require.NoError(t, err)

	static := values.NewStaticProvider(nil)
	fetcher := values.NewFetcher(values.NewRegistry(static), false, zerolog.Nop())
	notifier := newRecordingNotifier()

	eng := New(store.NewMemoryStore(), hasher, syntax, fetcher, notifier, nil,
		secrets.DefaultLimits(), zerolog.Nop())
	return &fixture{eng: eng, static: static, notifier: notifier, dir: t.TempDir()}
}

func (f *fixture) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (f *fixture) readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// register adds a static-typed secret and makes its value resolvable.
func (f *fixture) register(t *testing.T, name, value, filePath string, ctl secrets.ControlType) secrets.Secret {
	t.Helper()
	f.static.Set(name, value)
	sec, err := f.eng.AddSecret(context.Background(), name, value, filePath, secrets.TypeStatic, ctl)
	require.NoError(t, err)
	return sec
}

func TestEngine_StashUnstashRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "app.env", "key=ABC123XYZ")
	f.register(t, "k1", "ABC123XYZ", path, secrets.Managed)

	res, err := f.eng.Stash(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replaced)
	assert.Equal(t, "key=@KeeShepherd(k1)", f.readFile(t, path))

	// The map is rebuilt against the stashed text: pos 4, plaintext length 9.
	m, missing, err := f.eng.Reconcile(ctx, path)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, 4, m[0].Pos)
	assert.Equal(t, 9, m[0].Length)
	assert.Empty(t, missing)

	back, err := f.eng.Unstash(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, back.Replaced)
	assert.Equal(t, "key=ABC123XYZ", f.readFile(t, path))
}

func TestEngine_StashIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "app.env", "key=ABC123XYZ")
	f.register(t, "k1", "ABC123XYZ", path, secrets.Managed)

	_, err := f.eng.Stash(ctx, path)
	require.NoError(t, err)
	first := f.readFile(t, path)

	res, err := f.eng.Stash(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Replaced)
	assert.Empty(t, res.Missing)
	assert.Equal(t, first, f.readFile(t, path))
}

func TestEngine_SupervisedNeverTransformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "app.env", "key=ABC123XYZ")
	f.register(t, "k1", "ABC123XYZ", path, secrets.Supervised)

	res, err := f.eng.Stash(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Replaced)
	assert.Equal(t, "key=ABC123XYZ", f.readFile(t, path))

	// Still maskable even though it is never stashed.
	mask, err := f.eng.Mask(ctx, path)
	require.NoError(t, err)
	require.Len(t, mask.Ranges, 1)
	assert.Equal(t, 4, mask.Ranges[0].Start)
	assert.Equal(t, 13, mask.Ranges[0].End)
}

func TestEngine_GuardNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "app.env", "key=ABC123XYZ")
	f.register(t, "k1", "ABC123XYZ", path, secrets.Managed)

	_, err := f.eng.Stash(ctx, path)
	require.NoError(t, err)
	hasUnstashed, notified := f.notifier.last(path)
	require.True(t, notified)
	assert.False(t, hasUnstashed, "stashed file reported as containing live secrets")

	_, err = f.eng.Unstash(ctx, path)
	require.NoError(t, err)
	hasUnstashed, _ = f.notifier.last(path)
	assert.True(t, hasUnstashed, "unstashed file reported as clean")
}

func TestEngine_MaskMissingAfterManualEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "app.env", "key=ABC123XYZ")
	f.register(t, "k1", "ABC123XYZ", path, secrets.Managed)

	// The secret is manually deleted behind the engine's back.
	require.NoError(t, os.WriteFile(path, []byte("key="), 0o600))

	res, err := f.eng.Mask(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, res.Ranges)
	assert.Contains(t, res.Missing, "k1")
}

func TestEngine_MaskReconcilesAfterShift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "app.env", "key=ABC123XYZ")
	f.register(t, "k1", "ABC123XYZ", path, secrets.Managed)

	// Insert a prefix so the recorded position goes stale.
	require.NoError(t, os.WriteFile(path, []byte("# header\nkey=ABC123XYZ"), 0o600))

	res, err := f.eng.Mask(ctx, path)
	require.NoError(t, err)
	require.Len(t, res.Ranges, 1)
	assert.Equal(t, 13, res.Ranges[0].Start)
	assert.Equal(t, 22, res.Ranges[0].End)
	assert.Empty(t, res.Missing)
}

func TestEngine_AddSecretNameConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "app.env", "key=ABC123XYZ other=DIFFERENT9")
	f.register(t, "k1", "ABC123XYZ", path, secrets.Managed)

	_, err := f.eng.AddSecret(ctx, "k1", "DIFFERENT9", path, secrets.TypeStatic, secrets.Managed)
	assert.ErrorIs(t, err, secrets.ErrNameConflict)

	// Identical re-add is an update, not a conflict.
	_, err = f.eng.AddSecret(ctx, "k1", "ABC123XYZ", path, secrets.TypeStatic, secrets.Managed)
	assert.NoError(t, err)

	// The name/hash pairing holds across files: the same name never refers
	// to two different values anywhere in the store.
	other := f.writeFile(t, "other.env", "key=DIFFERENT9")
	_, err = f.eng.AddSecret(ctx, "k1", "DIFFERENT9", other, secrets.TypeStatic, secrets.Managed)
	assert.ErrorIs(t, err, secrets.ErrNameConflict)
}

func TestEngine_Forget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "app.env", "key=ABC123XYZ")
	f.register(t, "k1", "ABC123XYZ", path, secrets.Managed)

	require.NoError(t, f.eng.Forget(ctx, path, []string{"k1"}))

	secs, err := f.eng.ListSecrets(ctx, path, true)
	require.NoError(t, err)
	assert.Empty(t, secs)

	files, err := f.eng.TrackedFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestEngine_ResolveAnchors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.writeFile(t, "source.env", "key=ABC123XYZ")
	f.register(t, "k1", "ABC123XYZ", source, secrets.Managed)

	// A second file arrives already stashed (e.g. cloned from git).
	clone := f.writeFile(t, "clone.env", "key=@KeeShepherd(k1)")

	adopted, err := f.eng.ResolveAnchors(ctx, clone)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, adopted)

	res, err := f.eng.Unstash(ctx, clone)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replaced)
	assert.Equal(t, "key=ABC123XYZ", f.readFile(t, clone))
}

func TestEngine_BulkStash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.writeFile(t, "a.env", "key=ABC123XYZ")
	b := f.writeFile(t, "b.env", "pass=SECRETXY")
	f.register(t, "k1", "ABC123XYZ", a, secrets.Managed)
	f.register(t, "k2", "SECRETXY", b, secrets.Managed)

	// One tracked file has vanished from disk.
	gone := f.writeFile(t, "gone.env", "tok=TOK99TOK99")
	f.register(t, "k3", "TOK99TOK99", gone, secrets.Managed)
	require.NoError(t, os.Remove(gone))

	res, err := f.eng.StashAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, res.Processed)
	assert.Contains(t, res.Failed, gone)

	assert.Equal(t, "key=@KeeShepherd(k1)", f.readFile(t, a))
	assert.Equal(t, "pass=@KeeShepherd(k2)", f.readFile(t, b))
}

func TestEngine_Rotate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeFile(t, "app.env", "key=ABC123XYZ")
	sec := f.register(t, "k1", "ABC123XYZ", path, secrets.Managed)

	n, err := f.eng.Rotate(ctx, sec.Hash, "NEWVALUE9012")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	secs, err := f.eng.ListSecrets(ctx, path, true)
	require.NoError(t, err)
	require.Len(t, secs, 1)
	assert.NotEqual(t, sec.Hash, secs[0].Hash)
	assert.Equal(t, 12, secs[0].Length)

	_, err = f.eng.Rotate(ctx, secs[0].Hash, "tiny")
	assert.ErrorIs(t, err, secrets.ErrSecretTooShort)
}
