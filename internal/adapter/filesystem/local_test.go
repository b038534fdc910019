package filesystem

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocalFileSystemEnsureDirCreatesNestedPath(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "b", "c")

	l := NewLocalFileSystem()
	if err := l.EnsureDir(target); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected %s to be a directory, err=%v", target, err)
	}
}

func TestLocalFileSystemCreateFileTruncatesAndCreatesParents(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "nested", "out.bin")

	l := NewLocalFileSystem()
	w, err := l.CreateFile(path)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := w.Write([]byte("first")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := l.CreateFile(path)
	if err != nil {
		t.Fatalf("CreateFile (second): %v", err)
	}
	if _, err := w2.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w2.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "x" {
		t.Errorf("content = %q, want %q (file must be truncated, not appended)", b, "x")
	}
}

func TestLocalFileSystemDeleteFileAbsentIsNotAnError(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "never-existed.bin")

	l := NewLocalFileSystem()
	if err := l.DeleteFile(path); err != nil {
		t.Errorf("DeleteFile on an absent file should not error, got %v", err)
	}
}

func TestLocalFileSystemDeleteFileRemovesExisting(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "doomed.bin")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l := NewLocalFileSystem()
	if err := l.DeleteFile(path); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s to be gone, stat err=%v", path, err)
	}
}

func TestLocalFileSystemAppendLineCreatesFileAndAppends(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "nested", "messages.txt")

	l := NewLocalFileSystem()
	if err := l.AppendLine(path, "first\n"); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}
	if err := l.AppendLine(path, "second\n"); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "first\nsecond\n" {
		t.Errorf("content = %q, want %q", b, "first\nsecond\n")
	}
}

func TestLocalFileSystemStatReportsSizeAndAbsence(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "sized.bin")
	if err := os.WriteFile(path, []byte("12345"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l := NewLocalFileSystem()
	size, ok := l.Stat(path)
	if !ok || size != 5 {
		t.Errorf("Stat(%s) = (%d, %v), want (5, true)", path, size, ok)
	}

	_, ok = l.Stat(filepath.Join(root, "missing.bin"))
	if ok {
		t.Error("Stat on a missing file should report ok=false")
	}
}
