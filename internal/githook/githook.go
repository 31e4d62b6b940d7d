// Package githook maintains the pre-commit guard that blocks committing
// files known to contain live managed secret values.
package githook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Notifier receives stash-state changes. Fire-and-forget from the engine's
// point of view: failures are logged, never propagated into the operation.
type Notifier interface {
	OnStashStateChanged(filePath string, hasUnstashedManagedSecrets bool)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// OnStashStateChanged does nothing.
func (NopNotifier) OnStashStateChanged(string, bool) {}

const (
	blockBegin = "# >>> secret-shepherd guard >>>"
	blockEnd   = "# <<< secret-shepherd guard <<<"
	hookName   = "pre-commit"
)

// Guard edits a marker-delimited block inside .git/hooks/pre-commit. Files
// with unstashed managed secrets are listed in the block; committing one of
// them fails until it is stashed.
type Guard struct {
	mu      sync.Mutex
	repoDir string
	files   map[string]bool
	log     zerolog.Logger
}

// NewGuard creates a guard for the repository at repoDir.
func NewGuard(repoDir string, log zerolog.Logger) *Guard {
	return &Guard{
		repoDir: repoDir,
		files:   make(map[string]bool),
		log:     log,
	}
}

// OnStashStateChanged adds or removes a file from the guard block.
func (g *Guard) OnStashStateChanged(filePath string, hasUnstashed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if hasUnstashed {
		g.files[filePath] = true
	} else {
		delete(g.files, filePath)
	}
	if err := g.rewrite(); err != nil {
		g.log.Warn().Err(err).Str("file", filePath).Msg("could not update pre-commit guard")
	}
}

// Guarded returns the currently guarded files, sorted.
func (g *Guard) Guarded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sortedFiles()
}

func (g *Guard) sortedFiles() []string {
	out := make([]string, 0, len(g.files))
	for f := range g.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (g *Guard) hookPath() string {
	return filepath.Join(g.repoDir, ".git", "hooks", hookName)
}

func (g *Guard) rewrite() error {
	path := g.hookPath()

	existing, err := os.ReadFile(path) //#nosec G304 -- path is derived from the configured repo dir
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	kept := stripBlock(string(existing))

	if len(g.files) == 0 {
		if strings.TrimSpace(kept) == "" || strings.TrimSpace(kept) == "#!/bin/sh" {
			// Nothing but our block ever lived here.
			err := os.Remove(path)
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		return writeHook(path, kept)
	}

	var b strings.Builder
	if strings.TrimSpace(kept) == "" {
		b.WriteString("#!/bin/sh\n")
	} else {
		b.WriteString(kept)
		if !strings.HasSuffix(kept, "\n") {
			b.WriteByte('\n')
		}
	}
	b.WriteString(blockBegin + "\n")
	for _, f := range g.sortedFiles() {
		// git diff prints repo-relative paths, so the grep must too.
		rel := g.relPath(f)
		fmt.Fprintf(&b, "if git diff --cached --name-only | grep -qxF %q; then\n", rel)
		fmt.Fprintf(&b, "  echo \"secret-shepherd: %s contains unstashed secrets; stash before committing\" >&2\n", rel)
		b.WriteString("  exit 1\nfi\n")
	}
	b.WriteString(blockEnd + "\n")
	return writeHook(path, b.String())
}

// relPath converts a tracked path to the repo-relative, slash-separated form
// git emits. Paths outside the repo are kept as-is; they can never show up
// in a staged diff anyway.
func (g *Guard) relPath(filePath string) string {
	repo, err := filepath.Abs(g.repoDir)
	if err != nil {
		return filePath
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return filePath
	}
	rel, err := filepath.Rel(repo, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filePath
	}
	return filepath.ToSlash(rel)
}

func writeHook(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o755) //#nosec G306 -- hooks must be executable
}

// stripBlock removes our marker block, keeping everything else untouched.
func stripBlock(content string) string {
	begin := strings.Index(content, blockBegin)
	if begin < 0 {
		return content
	}
	end := strings.Index(content, blockEnd)
	if end < 0 {
		return content[:begin]
	}
	rest := content[end+len(blockEnd):]
	rest = strings.TrimPrefix(rest, "\n")
	return content[:begin] + rest
}
