package blob

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPutGetDelete(t *testing.T) {
	s, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}

	key := "exports/job-1/out.srt"
	if err := s.Put(key, []byte("payload")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := s.Exists(key)
	if err != nil || !exists {
		t.Fatalf("expected object to exist, got %v %v", exists, err)
	}

	data, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("expected payload, got %q", data)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, _ = s.Exists(key)
	if exists {
		t.Errorf("expected object gone after delete")
	}
	// deleting again is a no-op
	if err := s.Delete(key); err != nil {
		t.Errorf("expected idempotent delete, got %v", err)
	}
}

func TestPutOverwrites(t *testing.T) {
	s, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}

	if err := s.Put("k", []byte("one")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("k", []byte("two")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	data, _ := s.Get("k")
	if string(data) != "two" {
		t.Errorf("expected overwrite, got %q", data)
	}

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(filepath.Join(s.root, "k")))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected single object file, found %d entries", len(entries))
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	s, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}

	for _, key := range []string{"", "../outside", "/abs/path"} {
		if err := s.Put(key, []byte("x")); err == nil {
			t.Errorf("expected rejection for key %q", key)
		}
	}
}
