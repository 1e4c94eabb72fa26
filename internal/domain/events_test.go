package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestChangeEventValidRejectsMalformedPayloads(t *testing.T) {
	badStatus := SessionStatus("paused")
	badPhase := SessionPhase("intermission")
	now := time.Now()

	cases := []struct {
		name  string
		event ChangeEvent
		want  bool
	}{
		{"session update", SessionChanged("s1", SessionUpdate{}, now), true},
		{"session delete without payload", ChangeEvent{Type: EventDelete, Table: TableSessions, SessionID: "s1"}, true},
		{"player insert", PlayerChanged(EventInsert, Player{ID: "p1", SessionID: "s1"}), true},
		{"missing session id", ChangeEvent{Type: EventUpdate, Table: TableSessions, Session: &SessionDelta{}}, false},
		{"unknown event type", ChangeEvent{Type: "upsert", Table: TableSessions, SessionID: "s1", Session: &SessionDelta{}}, false},
		{"unknown table", ChangeEvent{Type: EventUpdate, Table: "rounds", SessionID: "s1"}, false},
		{"unknown status enum", ChangeEvent{Type: EventUpdate, Table: TableSessions, SessionID: "s1", Session: &SessionDelta{Status: &badStatus}}, false},
		{"unknown phase enum", ChangeEvent{Type: EventUpdate, Table: TableSessions, SessionID: "s1", Session: &SessionDelta{Phase: &badPhase}}, false},
		{"session update without payload", ChangeEvent{Type: EventUpdate, Table: TableSessions, SessionID: "s1"}, false},
		{"player update without payload", ChangeEvent{Type: EventUpdate, Table: TablePlayers, SessionID: "s1"}, false},
	}

	for _, tc := range cases {
		if got := tc.event.Valid(); got != tc.want {
			t.Fatalf("%s: Valid() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPublicProjectionStripsCorrectness(t *testing.T) {
	quiz := Quiz{
		ID:   "quiz-1",
		Code: "ABCDEF",
		Questions: []Question{
			{
				ID: "q1",
				Answers: []Answer{
					{ID: "a1", Correct: false},
					{ID: "a2", Correct: true},
				},
			},
		},
	}

	pub := quiz.Public()
	if len(pub.Questions) != 1 || len(pub.Questions[0].Answers) != 2 {
		t.Fatalf("projection lost structure: %+v", pub)
	}
	if quiz.Questions[0].CorrectAnswerID() != "a2" {
		t.Fatalf("expected correct answer a2 on the internal quiz")
	}

	// The serialized form must not leak correctness either.
	data, err := json.Marshal(pub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"correct"`) {
		t.Fatalf("public projection leaked correctness: %s", data)
	}
}
