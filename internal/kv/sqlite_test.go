package kv

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulselog.db")
	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	store, err := NewSQLite(SQLiteConfig{Database: db, Clock: func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("wrap sqlite failed: %v", err)
	}
	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if _, ok, err := store.Get("state"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := store.Set("state", []byte(`{"version":2}`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, ok, err := store.Get("state")
	if err != nil || !ok {
		t.Fatalf("expected stored value, got ok=%v err=%v", ok, err)
	}
	if string(value) != `{"version":2}` {
		t.Fatalf("unexpected value %s", value)
	}
}

func TestSQLiteSetReplacesExistingDocument(t *testing.T) {
	store := openTestStore(t)

	if err := store.Set("state", []byte(`1`)); err != nil {
		t.Fatalf("first set failed: %v", err)
	}
	if err := store.Set("state", []byte(`2`)); err != nil {
		t.Fatalf("second set failed: %v", err)
	}
	value, _, err := store.Get("state")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != "2" {
		t.Fatalf("expected last write to win, got %s", value)
	}
}

func TestSQLiteDeleteIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	if err := store.Set("queue", []byte(`[]`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Delete("queue"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete("queue"); err != nil {
		t.Fatalf("deleting absent key must not fail: %v", err)
	}
	if _, ok, _ := store.Get("queue"); ok {
		t.Fatalf("expected key gone")
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	store := NewMemory()
	if err := store.Set("state", []byte("abc")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, _, _ := store.Get("state")
	value[0] = 'x'
	again, _, _ := store.Get("state")
	if string(again) != "abc" {
		t.Fatalf("mutating a returned value must not affect storage, got %s", again)
	}
}
