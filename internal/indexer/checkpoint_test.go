package indexer

import (
	"path/filepath"
	"testing"
)

func TestCheckpointStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	store := NewCheckpointStore(path, testBridge, true)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("expected no checkpoint, got ok=%v err=%v", ok, err)
	}
	if err := store.Save(42); err != nil {
		t.Fatalf("save: %v", err)
	}
	height, ok, err := store.Load()
	if err != nil || !ok || height != 42 {
		t.Fatalf("load: %d %v %v", height, ok, err)
	}

	other := NewCheckpointStore(path, testUser, true)
	if _, ok, err := other.Load(); err != nil || ok {
		t.Fatalf("checkpoint for another account must be ignored")
	}
}

func TestCheckpointStoreDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, testBridge, false)
	if err := store.Save(7); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := NewCheckpointStore(path, testBridge, true).Load(); ok {
		t.Fatalf("disabled store must not write")
	}
}
