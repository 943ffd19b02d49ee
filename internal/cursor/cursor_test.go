package cursor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cursor.json")
	store := NewFileStore(path)

	ctx := context.Background()
	if _, ok, err := store.Load(ctx, "Feature|Org"); err != nil || ok {
		t.Fatalf("expected no cursor initially, got ok=%v err=%v", ok, err)
	}

	want := time.Date(2025, 8, 1, 6, 30, 0, 0, time.UTC)
	if err := store.Save(ctx, "Feature|Org", want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, ok, err := store.Load(ctx, "Feature|Org")
	if err != nil || !ok {
		t.Fatalf("expected cursor present, got ok=%v err=%v", ok, err)
	}
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// A different scope stays independent.
	if _, ok, _ := store.Load(ctx, "Feature|Other"); ok {
		t.Fatalf("unexpected cursor for other scope")
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	ctx := context.Background()
	want := time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC)
	if err := NewFileStore(path).Save(ctx, "scope", want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, ok, err := NewFileStore(path).Load(ctx, "scope")
	if err != nil || !ok || !got.Equal(want) {
		t.Fatalf("reopen load: got=%v ok=%v err=%v", got, ok, err)
	}
}

func TestFileStoreCorruptFileSurfacesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	_, ok, err := NewFileStore(path).Load(context.Background(), "scope")
	if err == nil || ok {
		t.Fatalf("expected load error for corrupt file, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ts := time.Now().UTC()
	if err := store.Save(ctx, "k", ts); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, ok, err := store.Load(ctx, "k")
	if err != nil || !ok || !got.Equal(ts) {
		t.Fatalf("load: got=%v ok=%v err=%v", got, ok, err)
	}
}

func TestFromDSN(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		dsn  string
		want string
	}{
		{"", "*cursor.MemoryStore"},
		{"memory://", "*cursor.MemoryStore"},
		{filepath.Join(dir, "c.json"), "*cursor.FileStore"},
		{"file://" + filepath.Join(dir, "c2.json"), "*cursor.FileStore"},
		{"postgres://user:pw@localhost/db", "*cursor.PostgresStore"},
	}
	for _, tc := range cases {
		store, err := FromDSN(tc.dsn)
		if err != nil {
			t.Fatalf("FromDSN(%q) failed: %v", tc.dsn, err)
		}
		if got := typeName(store); got != tc.want {
			t.Fatalf("FromDSN(%q) = %s, want %s", tc.dsn, got, tc.want)
		}
	}
	if _, err := FromDSN("redis://localhost"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestFromDSNCustomScheme(t *testing.T) {
	RegisterStoreFactory("fake", func(string) (Store, error) {
		return NewMemoryStore(), nil
	})
	store, err := FromDSN("fake://whatever")
	if err != nil {
		t.Fatalf("custom scheme failed: %v", err)
	}
	if typeName(store) != "*cursor.MemoryStore" {
		t.Fatalf("unexpected store %s", typeName(store))
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *MemoryStore:
		return "*cursor.MemoryStore"
	case *FileStore:
		return "*cursor.FileStore"
	case *PostgresStore:
		return "*cursor.PostgresStore"
	default:
		return "unknown"
	}
}
