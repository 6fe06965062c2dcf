package fileid

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPhotoID(t *testing.T) {
	id1 := PhotoID("/photos/a.jpg")
	id2 := PhotoID("/photos/a.jpg")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if id1[:len(prefix)] != prefix {
		t.Errorf("ID should have prefix %q: got %q", prefix, id1)
	}
	if PhotoID("/photos/b.jpg") == id1 {
		t.Error("different paths should give different IDs")
	}
}

func TestPhotoID_normalized(t *testing.T) {
	id1 := PhotoID("/photos/dog")
	id2 := PhotoID("/photos/dog/")
	id3 := PhotoID("/photos/./dog")
	if id1 != id2 || id1 != id3 {
		t.Errorf("cleaned paths should match: %q %q %q", id1, id2, id3)
	}
}

func TestFingerprint_changesWithContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	if err := os.WriteFile(path, []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}
	fp1, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	fp2, _ := Fingerprint(path)
	if fp1 != fp2 {
		t.Error("unchanged file should keep its fingerprint")
	}

	if err := os.WriteFile(path, []byte("longer"), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	_ = os.Chtimes(path, future, future)
	fp3, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if fp3 == fp1 {
		t.Error("rewritten file should get a new fingerprint")
	}
}

func TestFingerprint_errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Fingerprint(filepath.Join(dir, "missing.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Fingerprint(dir); err == nil {
		t.Error("expected error for directory")
	}
}
