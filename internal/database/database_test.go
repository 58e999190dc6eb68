package database

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocateMigrationsAbsolute(t *testing.T) {
	dir := t.TempDir()

	got, err := locateMigrations(dir)
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if got != dir {
		t.Fatalf("got %q, want %q", got, dir)
	}

	if _, err := locateMigrations(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("absent absolute dir must error")
	}
}

func TestLocateMigrationsRelativeToWorkingDir(t *testing.T) {
	root := t.TempDir()
	want := filepath.Join(root, "migrations")
	if err := os.Mkdir(want, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Chdir(root)

	got, err := locateMigrations("migrations")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	gotResolved, _ := filepath.EvalSymlinks(got)
	wantResolved, _ := filepath.EvalSymlinks(want)
	if gotResolved != wantResolved {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLocateMigrationsRejectsEmpty(t *testing.T) {
	if _, err := locateMigrations(""); err == nil {
		t.Fatal("empty dir must error")
	}
}
