package client

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureAuthIsStablePerProfile(t *testing.T) {
	states := NewStateStore(t.TempDir())

	first, err := states.EnsureAuth()
	if err != nil {
		t.Fatalf("ensure auth: %v", err)
	}
	if first == "" {
		t.Fatalf("expected a principal id")
	}
	second, err := states.EnsureAuth()
	if err != nil {
		t.Fatalf("ensure auth again: %v", err)
	}
	if first != second {
		t.Fatalf("principal must be stable, got %s then %s", first, second)
	}
}

func TestSessionPointerRoundTrip(t *testing.T) {
	states := NewStateStore(t.TempDir())

	stored := StoredSession{SessionID: "s1", QuizCode: "ABC234", Role: RolePlayer, PlayerID: "p1"}
	if err := states.SaveSession(stored); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := states.LoadSession()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || *loaded != stored {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	states.ClearSession()
	loaded, err = states.LoadSession()
	if err != nil || loaded != nil {
		t.Fatalf("expected no pointer after clear, got %+v / %v", loaded, err)
	}
}

func TestLoadSessionToleratesLegacyPayloads(t *testing.T) {
	dir := t.TempDir()
	states := NewStateStore(dir)

	// Old payloads had no role field; it is inferred from the player id.
	write := func(raw string) {
		if err := os.WriteFile(filepath.Join(dir, "active-session.json"), []byte(raw), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	write(`{"sessionId":"s1","quizCode":"ABC234","playerId":"p1"}`)
	loaded, err := states.LoadSession()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.Role != RolePlayer {
		t.Fatalf("expected player role inferred, got %+v", loaded)
	}

	write(`{"sessionId":"s1","quizCode":"ABC234"}`)
	loaded, err = states.LoadSession()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.Role != RoleHost {
		t.Fatalf("expected host role inferred, got %+v", loaded)
	}

	// Corrupt or incomplete payloads restore nothing rather than erroring.
	write(`{"sessionId":"s1"}`)
	if loaded, _ := states.LoadSession(); loaded != nil {
		t.Fatalf("incomplete pointer must not restore, got %+v", loaded)
	}
	write(`not json`)
	if loaded, _ := states.LoadSession(); loaded != nil {
		t.Fatalf("corrupt pointer must not restore, got %+v", loaded)
	}
}

func TestLoadSessionMissingFileIsNotAnError(t *testing.T) {
	states := NewStateStore(t.TempDir())
	loaded, err := states.LoadSession()
	if err != nil || loaded != nil {
		t.Fatalf("expected (nil, nil) for a fresh profile, got %+v / %v", loaded, err)
	}
}
