package githook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func setupRepo(t *testing.T) (string, *Guard) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git", "hooks"), 0o755); err != nil {
		t.Fatalf("creating hooks dir: %v", err)
	}
	return dir, NewGuard(dir, zerolog.Nop())
}

func readHook(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, ".git", "hooks", "pre-commit"))
	if err != nil {
		t.Fatalf("reading hook: %v", err)
	}
	return string(data)
}

func TestGuard_AddAndRemove(t *testing.T) {
	dir, g := setupRepo(t)

	g.OnStashStateChanged("app.env", true)
	hook := readHook(t, dir)
	if !strings.Contains(hook, `grep -qxF "app.env"`) {
		t.Errorf("hook missing guard for app.env:\n%s", hook)
	}
	if !strings.Contains(hook, blockBegin) || !strings.Contains(hook, blockEnd) {
		t.Error("hook missing marker block")
	}

	g.OnStashStateChanged("app.env", false)
	if _, err := os.Stat(filepath.Join(dir, ".git", "hooks", "pre-commit")); !os.IsNotExist(err) {
		t.Error("hook still present after last guarded file removed")
	}
}

func TestGuard_PreservesForeignHookContent(t *testing.T) {
	dir, g := setupRepo(t)
	foreign := "#!/bin/sh\necho linting\n"
	hookPath := filepath.Join(dir, ".git", "hooks", "pre-commit")
	if err := os.WriteFile(hookPath, []byte(foreign), 0o755); err != nil {
		t.Fatalf("seeding hook: %v", err)
	}

	g.OnStashStateChanged("a.env", true)
	g.OnStashStateChanged("b.env", true)
	hook := readHook(t, dir)
	if !strings.HasPrefix(hook, foreign) {
		t.Errorf("foreign hook content not preserved:\n%s", hook)
	}
	if !strings.Contains(hook, `"a.env"`) || !strings.Contains(hook, `"b.env"`) {
		t.Errorf("hook missing guarded files:\n%s", hook)
	}

	g.OnStashStateChanged("a.env", false)
	g.OnStashStateChanged("b.env", false)
	hook = readHook(t, dir)
	if hook != foreign {
		t.Errorf("hook not restored to foreign content:\n got %q\nwant %q", hook, foreign)
	}
}

func TestGuard_IdempotentRewrite(t *testing.T) {
	dir, g := setupRepo(t)

	g.OnStashStateChanged("app.env", true)
	first := readHook(t, dir)
	g.OnStashStateChanged("app.env", true)
	second := readHook(t, dir)

	if first != second {
		t.Errorf("repeat notification changed the hook:\n%s\nvs\n%s", first, second)
	}
	if strings.Count(second, blockBegin) != 1 {
		t.Error("guard block duplicated")
	}
}

func TestGuard_AbsolutePathsWrittenRepoRelative(t *testing.T) {
	dir, g := setupRepo(t)
	tracked := filepath.Join(dir, "sub", "app.env")

	g.OnStashStateChanged(tracked, true)
	hook := readHook(t, dir)
	if !strings.Contains(hook, `grep -qxF "sub/app.env"`) {
		t.Errorf("hook does not grep for the repo-relative path:\n%s", hook)
	}
	if strings.Contains(hook, tracked) {
		t.Errorf("hook still carries the absolute path:\n%s", hook)
	}
}

func TestGuard_PathOutsideRepoKeptVerbatim(t *testing.T) {
	dir, g := setupRepo(t)
	outside := filepath.Join(t.TempDir(), "app.env")

	g.OnStashStateChanged(outside, true)
	hook := readHook(t, dir)
	if !strings.Contains(hook, outside) {
		t.Errorf("hook lost the out-of-repo path:\n%s", hook)
	}
}

func TestGuard_GuardedList(t *testing.T) {
	_, g := setupRepo(t)

	g.OnStashStateChanged("b.env", true)
	g.OnStashStateChanged("a.env", true)

	got := g.Guarded()
	if len(got) != 2 || got[0] != "a.env" || got[1] != "b.env" {
		t.Errorf("Guarded() = %v, want sorted [a.env b.env]", got)
	}
}
