package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskFootprint(t *testing.T) {
	dir := t.TempDir()

	db := filepath.Join(dir, "sandy.db")
	if err := os.WriteFile(db, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(db+"-wal", []byte("wal"), 0644); err != nil {
		t.Fatal(err)
	}

	index := filepath.Join(dir, "index")
	if err := os.Mkdir(index, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(index, "a"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(index, "b"), []byte("c"), 0644); err != nil {
		t.Fatal(err)
	}

	fp, err := DiskFootprint(db, index)
	if err != nil {
		t.Fatal(err)
	}
	if fp.ByPath[db] != 8 {
		t.Errorf("db with wal: got %d bytes, want 8", fp.ByPath[db])
	}
	if fp.ByPath[index] != 3 {
		t.Errorf("index dir: got %d bytes, want 3", fp.ByPath[index])
	}
	if fp.Total != 11 {
		t.Errorf("total: got %d bytes, want 11", fp.Total)
	}

	// Missing and empty paths contribute nothing
	fp, err = DiskFootprint("", filepath.Join(dir, "nonexistent"), index)
	if err != nil {
		t.Fatal(err)
	}
	if fp.Total != 3 {
		t.Errorf("with missing: got %d bytes, want 3", fp.Total)
	}
}
