package storage

import (
	"encoding/json"
	"testing"
)

func TestSessionSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)

	snap := SessionSnapshot{
		SessionID: "s1",
		Windows:   json.RawMessage(`[{"kind":"window.create","windowId":"w1"}]`),
		Tape:      json.RawMessage(`[{"role":"user","content":"hi"}]`),
	}
	if err := db.SaveSessionSnapshot(snap); err != nil {
		t.Fatalf("SaveSessionSnapshot: %v", err)
	}

	got, err := db.LoadSessionSnapshot("s1")
	if err != nil {
		t.Fatalf("LoadSessionSnapshot: %v", err)
	}
	if string(got.Windows) != string(snap.Windows) {
		t.Errorf("Windows = %s, want %s", got.Windows, snap.Windows)
	}
	if string(got.Tape) != string(snap.Tape) {
		t.Errorf("Tape = %s, want %s", got.Tape, snap.Tape)
	}
}

func TestSessionSnapshotOverwrite(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveSessionSnapshot(SessionSnapshot{SessionID: "s1", Windows: json.RawMessage(`[]`), Tape: json.RawMessage(`[]`)}); err != nil {
		t.Fatalf("SaveSessionSnapshot: %v", err)
	}
	if err := db.SaveSessionSnapshot(SessionSnapshot{SessionID: "s1", Windows: json.RawMessage(`[{"kind":"window.create"}]`), Tape: json.RawMessage(`[]`)}); err != nil {
		t.Fatalf("SaveSessionSnapshot overwrite: %v", err)
	}
	got, err := db.LoadSessionSnapshot("s1")
	if err != nil {
		t.Fatalf("LoadSessionSnapshot: %v", err)
	}
	if string(got.Windows) != `[{"kind":"window.create"}]` {
		t.Errorf("Windows = %s, want overwritten value", got.Windows)
	}
}

func TestSessionSnapshotNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.LoadSessionSnapshot("missing"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDeleteSessionSnapshot(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveSessionSnapshot(SessionSnapshot{SessionID: "s1", Windows: json.RawMessage(`[]`), Tape: json.RawMessage(`[]`)}); err != nil {
		t.Fatalf("SaveSessionSnapshot: %v", err)
	}
	if err := db.DeleteSessionSnapshot("s1"); err != nil {
		t.Fatalf("DeleteSessionSnapshot: %v", err)
	}
	if _, err := db.LoadSessionSnapshot("s1"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound after delete", err)
	}
}
