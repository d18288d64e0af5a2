package assets

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, s *Store, name string) string {
	t.Helper()
	rc, err := s.Open(name)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestStore_ImportDir(t *testing.T) {
	t.Run("copies every file and overwrites existing ones", func(t *testing.T) {
		src := t.TempDir()
		write(t, filepath.Join(src, "a.jpg"), "new-a")
		write(t, filepath.Join(src, "orphan.png"), "orphan")
		write(t, filepath.Join(src, "nested", "c.jpg"), "c")

		s := NewStore(filepath.Join(t.TempDir(), "photos"), nil)
		if _, err := s.Put("a.jpg", strings.NewReader("old-a")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		stats, err := s.ImportDir(src)
		if err != nil {
			t.Fatalf("ImportDir() error = %v", err)
		}
		if stats.Copied != 3 || stats.Missing != 0 {
			t.Errorf("stats = %+v, want 3 copied", stats)
		}
		if got := read(t, s, "a.jpg"); got != "new-a" {
			t.Errorf("a.jpg = %q, want overwritten content", got)
		}
		if !s.Exists("orphan.png") {
			t.Error("unreferenced file was not restored")
		}
		if !s.Exists("c.jpg") {
			t.Error("nested file was not flattened into the store")
		}
	})

	t.Run("missing source directory is a no-op", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "photos"), nil)
		stats, err := s.ImportDir(filepath.Join(t.TempDir(), "nope"))
		if err != nil {
			t.Fatalf("ImportDir() error = %v", err)
		}
		if stats.Copied != 0 || stats.Missing != 0 {
			t.Errorf("stats = %+v, want zero", stats)
		}
		if _, err := os.Stat(s.Dir()); !errors.Is(err, fs.ErrNotExist) {
			t.Error("store directory should not be created for an empty restore")
		}
	})
}

func TestStore_OpenRemove(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	if _, err := s.Open("ghost.jpg"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open(missing) error = %v, want ErrNotExist", err)
	}
	if err := s.Remove("ghost.jpg"); err != nil {
		t.Errorf("Remove(missing) error = %v", err)
	}

	n, err := s.Put("p.jpg", strings.NewReader("pixels"))
	if err != nil || n != 6 {
		t.Fatalf("Put() = %d, %v", n, err)
	}
	if got := read(t, s, "sub/p.jpg"); got != "pixels" {
		t.Errorf("Open by path = %q", got)
	}
	if err := s.Remove("p.jpg"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if s.Exists("p.jpg") {
		t.Error("photo still exists after Remove")
	}
	if _, err := s.Put("..", strings.NewReader("x")); err == nil {
		t.Error("Put(..) should fail")
	}
}
