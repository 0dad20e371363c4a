package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	target := filepath.Join(base, "nested", "cache", "state.bbolt")

	if err := EnsureDir(target); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	info, err := os.Stat(filepath.Dir(target))
	if err != nil {
		t.Fatalf("stat created dir: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("created path is not a directory")
	}

	// Повторный вызов и путь без каталога не являются ошибками.
	if err := EnsureDir(target); err != nil {
		t.Fatalf("EnsureDir repeat: %v", err)
	}
	if err := EnsureDir("state.bbolt"); err != nil {
		t.Fatalf("EnsureDir bare name: %v", err)
	}
}
