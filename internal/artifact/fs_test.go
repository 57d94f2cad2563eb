package artifact

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return s
}

func TestFSStore_PutOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Put(ctx, strings.NewReader(">a\nACGT\n"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id != Digest([]byte(">a\nACGT\n")) {
		t.Errorf("id should be the content digest, got %s", id)
	}

	// Повторная запись тех же данных даёт тот же дескриптор
	again, err := PutBytes(ctx, s, []byte(">a\nACGT\n"))
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if again != id {
		t.Errorf("expected same id, got %s and %s", id, again)
	}

	data, err := ReadAll(ctx, s, id)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != ">a\nACGT\n" {
		t.Errorf("unexpected content: %q", data)
	}

	ok, err := s.Exists(ctx, id)
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true", ok, err)
	}
}

func TestFSStore_Missing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	missing := Digest([]byte("never stored"))
	ok, err := s.Exists(ctx, missing)
	if err != nil || ok {
		t.Errorf("Exists = %v, %v; want false", ok, err)
	}

	if _, err := s.Open(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Open(ctx, "../../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Errorf("malformed id: expected ErrNotFound, got %v", err)
	}
}

func TestFSStore_Import(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	dir := t.TempDir()

	// Отсутствующий файл — не ошибка, а found == false
	_, found, err := s.Import(ctx, filepath.Join(dir, "blast.og_fragment_0"))
	if err != nil || found {
		t.Errorf("Import missing = %v, %v; want not found", found, err)
	}

	plain := filepath.Join(dir, "a.fa")
	if err := os.WriteFile(plain, []byte(">a\nAC\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, found, err := s.Import(ctx, plain)
	if err != nil || !found {
		t.Fatalf("Import = %v, %v", found, err)
	}
	if id != Digest([]byte(">a\nAC\n")) {
		t.Errorf("unexpected id %s", id)
	}
}

func TestFSStore_ImportDirAndGzip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	dir := filepath.Join(t.TempDir(), "genome")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.fa"), []byte(">b\nGG\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte(">a\nCC\n"))
	zw.Close()
	if err := os.WriteFile(filepath.Join(dir, "a.fa.gz"), gz.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	id, found, err := s.Import(ctx, dir)
	if err != nil || !found {
		t.Fatalf("Import dir = %v, %v", found, err)
	}
	data, err := ReadAll(ctx, s, id)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != ">a\nCC\n>b\nGG\n" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestFSStore_Export(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := PutJSON(ctx, s, map[string]string{"root": "anc0"})
	if err != nil {
		t.Fatalf("PutJSON: %v", err)
	}

	var back map[string]string
	if err := GetJSON(ctx, s, id, &back); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if back["root"] != "anc0" {
		t.Errorf("unexpected value: %v", back)
	}

	out := filepath.Join(t.TempDir(), "out.json")
	if err := s.Export(ctx, id, out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := os.Stat(out + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file should be removed")
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if Digest(data) != id {
		t.Error("exported file should match the artifact")
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, prefix, err := parseS3URL("s3://my-bucket/jobs/run1/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bucket != "my-bucket" || prefix != "jobs/run1" {
		t.Errorf("got %q %q", bucket, prefix)
	}

	if _, _, err := parseS3URL("/local/path"); err == nil {
		t.Error("expected error for non-s3 url")
	}
	if !IsS3URL("s3://b/k") || IsS3URL("./jobstore") {
		t.Error("IsS3URL mismatch")
	}
}
