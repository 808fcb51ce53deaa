package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadMissingIsEmpty(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "sent-uids.txt"), testLogger())
	set := r.Load()
	if len(set) != 0 {
		t.Fatalf("len = %d, want 0", len(set))
	}
}

func TestAddAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent-uids.txt")
	r := New(path, testLogger())

	if err := r.Add([]string{"42", "7", "1003"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add([]string{"7", "8"}); err != nil {
		t.Fatal(err)
	}

	set := r.Load()
	for _, uid := range []string{"42", "7", "1003", "8"} {
		if _, ok := set[uid]; !ok {
			t.Errorf("missing uid %s", uid)
		}
	}
	if len(set) != 4 {
		t.Errorf("len = %d, want 4", len(set))
	}

	// Persistence format: sorted, newline-delimited.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "1003\n42\n7\n8\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}

func TestAddEmptyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent-uids.txt")
	r := New(path, testLogger())
	if err := r.Add(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Add(nil) created the registry file")
	}
}

func TestLoadUnreadableIsEmpty(t *testing.T) {
	dir := t.TempDir()
	// A directory at the registry path makes ReadFile fail with a non-ENOENT error.
	path := filepath.Join(dir, "sent-uids.txt")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	r := New(path, testLogger())
	if set := r.Load(); len(set) != 0 {
		t.Fatalf("len = %d, want 0", len(set))
	}
}

func TestMarker(t *testing.T) {
	m := NewMarker(filepath.Join(t.TempDir(), "first-run"))
	if m.Exists() {
		t.Fatal("marker exists before Set")
	}
	if err := m.Set(); err != nil {
		t.Fatal(err)
	}
	if !m.Exists() {
		t.Fatal("marker missing after Set")
	}
	// Setting again is fine.
	if err := m.Set(); err != nil {
		t.Fatal(err)
	}
}
