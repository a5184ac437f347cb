package identity

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParticipantIDStable(t *testing.T) {
	storage := NewMemStorage()
	p := NewProvider(storage)

	id, err := p.ParticipantID()
	if err != nil {
		t.Fatalf("first id: %v", err)
	}
	if !strings.HasPrefix(id, "player_") {
		t.Errorf("id %q missing player_ prefix", id)
	}

	again, err := p.ParticipantID()
	if err != nil {
		t.Fatalf("second id: %v", err)
	}
	if again != id {
		t.Errorf("id changed: %q then %q", id, again)
	}

	// A new provider over the same storage resolves the same device.
	other, err := NewProvider(storage).ParticipantID()
	if err != nil {
		t.Fatalf("other provider: %v", err)
	}
	if other != id {
		t.Errorf("id not shared via storage: %q vs %q", other, id)
	}
}

func TestClearIssuesFreshID(t *testing.T) {
	p := NewProvider(NewMemStorage())
	id, err := p.ParticipantID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	if err := p.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	fresh, err := p.ParticipantID()
	if err != nil {
		t.Fatalf("fresh id: %v", err)
	}
	if fresh == id {
		t.Error("expected a new id after Clear")
	}
}

func TestFileStoragePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots", "storage.json")

	fs, err := OpenFileStorage(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := fs.Get(KeySessionCode); ok {
		t.Error("fresh storage should be empty")
	}
	if err := fs.Set(KeySessionCode, "AB12"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := fs.Set(KeyDisplayName, "Alice"); err != nil {
		t.Fatalf("set: %v", err)
	}

	reopened, err := OpenFileStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if v, ok := reopened.Get(KeySessionCode); !ok || v != "AB12" {
		t.Errorf("session code lost: %q %v", v, ok)
	}

	if err := reopened.Remove(KeySessionCode); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := reopened.Remove(KeySessionCode); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	final, err := OpenFileStorage(path)
	if err != nil {
		t.Fatalf("final open: %v", err)
	}
	if _, ok := final.Get(KeySessionCode); ok {
		t.Error("removed slot came back")
	}
	if v, ok := final.Get(KeyDisplayName); !ok || v != "Alice" {
		t.Errorf("unrelated slot lost: %q %v", v, ok)
	}
}
