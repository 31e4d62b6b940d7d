// Package watch re-reconciles tracked files when they change on disk. An
// edit invalidates every offset after the edit point, so the position map
// goes stale the moment a watched file is written; the watcher schedules a
// rebuild instead of leaving the stale map in place until the next command.
package watch

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/hfi/secret-shepherd/internal/engine"
)

// debounce coalesces editor write bursts (save + atomic rename chains).
const debounce = 250 * time.Millisecond

// Watcher reconciles tracked files on change.
type Watcher struct {
	eng     *engine.Engine
	fs      *fsnotify.Watcher
	log     zerolog.Logger
	tracked map[string]bool
	pending map[string]*time.Timer
}

// New creates a watcher over the engine's tracked files.
func New(eng *engine.Engine, log zerolog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		eng:     eng,
		fs:      fs,
		log:     log.With().Str("component", "watch").Logger(),
		tracked: make(map[string]bool),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Add starts watching one file.
func (w *Watcher) Add(filePath string) error {
	if w.tracked[filePath] {
		return nil
	}
	if err := w.fs.Add(filePath); err != nil {
		return err
	}
	w.tracked[filePath] = true
	return nil
}

// AddTracked registers every file the engine currently knows about.
func (w *Watcher) AddTracked(ctx context.Context) error {
	files, err := w.eng.TrackedFiles(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := w.Add(f); err != nil {
			w.log.Warn().Err(err).Str("file", f).Msg("cannot watch file")
		}
	}
	return nil
}

// Run processes events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	reconciled := make(chan string)
	// Closed on return so pending debounce timers abandon their send
	// instead of blocking forever.
	done := make(chan struct{})
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return w.fs.Close()

		case filePath := <-reconciled:
			w.reconcile(ctx, filePath)

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.schedule(event.Name, reconciled, done)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) schedule(filePath string, reconciled chan<- string, done <-chan struct{}) {
	if t, ok := w.pending[filePath]; ok {
		t.Stop()
	}
	w.pending[filePath] = time.AfterFunc(debounce, func() {
		select {
		case reconciled <- filePath:
		case <-done:
		}
	})
}

func (w *Watcher) reconcile(ctx context.Context, filePath string) {
	delete(w.pending, filePath)

	m, missing, err := w.eng.Reconcile(ctx, filePath)
	if err != nil {
		w.log.Warn().Err(err).Str("file", filePath).Msg("reconcile after edit failed")
		return
	}
	// Editors that replace the file on save drop the inode from the watch.
	if err := w.fs.Add(filePath); err != nil {
		w.log.Debug().Err(err).Str("file", filePath).Msg("re-adding watch failed")
	}
	evt := w.log.Info().Str("file", filePath).Int("entries", len(m))
	if len(missing) > 0 {
		evt = evt.Strs("missing", missing)
	}
	evt.Msg("position map rebuilt after edit")
}
