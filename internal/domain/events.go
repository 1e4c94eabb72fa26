package domain

import "time"

// EventType tags what happened to the row carried by a ChangeEvent.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeTable names the entity a ChangeEvent refers to.
type ChangeTable string

const (
	TableSessions ChangeTable = "game_sessions"
	TablePlayers  ChangeTable = "players"
)

// SessionDelta is the partial session payload carried by push
// notifications. Nil fields mean "not included", never "became null";
// receivers must keep their previously held value for them.
type SessionDelta struct {
	Status               *SessionStatus `json:"status,omitempty"`
	Phase                *SessionPhase  `json:"phase,omitempty"`
	CurrentQuestionIndex *int           `json:"currentQuestionIndex,omitempty"`
	QuestionStartedAt    *time.Time     `json:"questionStartedAt,omitempty"`
	StartedAt            *time.Time     `json:"startedAt,omitempty"`
	EndedAt              *time.Time     `json:"endedAt,omitempty"`
	UpdatedAt            *time.Time     `json:"updatedAt,omitempty"`
}

// ChangeEvent is one notification from the change feed. Exactly one of
// Session or Player is set, matching Table.
type ChangeEvent struct {
	Type      EventType     `json:"type"`
	Table     ChangeTable   `json:"table"`
	SessionID string        `json:"sessionId"`
	Session   *SessionDelta `json:"session,omitempty"`
	Player    *Player       `json:"player,omitempty"`
}

// Valid narrows loosely shaped feed payloads before they may be merged
// into typed state. Unknown enum values and mismatched table/payload
// combinations are rejected rather than trusted.
func (e ChangeEvent) Valid() bool {
	switch e.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return false
	}
	if e.SessionID == "" {
		return false
	}
	switch e.Table {
	case TableSessions:
		if e.Session == nil {
			return e.Type == EventDelete
		}
		if s := e.Session.Status; s != nil {
			switch *s {
			case StatusWaiting, StatusPlaying, StatusFinished:
			default:
				return false
			}
		}
		if p := e.Session.Phase; p != nil {
			switch *p {
			case PhaseQuestion, PhaseResults, PhaseScoreboard:
			default:
				return false
			}
		}
		return true
	case TablePlayers:
		return e.Player != nil || e.Type == EventDelete
	}
	return false
}

// SessionChanged builds an update event for a session row, carrying only
// the fields the write touched.
func SessionChanged(sessionID string, update SessionUpdate, updatedAt time.Time) ChangeEvent {
	at := updatedAt
	return ChangeEvent{
		Type:      EventUpdate,
		Table:     TableSessions,
		SessionID: sessionID,
		Session: &SessionDelta{
			Status:               update.Status,
			Phase:                update.Phase,
			CurrentQuestionIndex: update.CurrentQuestionIndex,
			QuestionStartedAt:    update.QuestionStartedAt,
			StartedAt:            update.StartedAt,
			EndedAt:              update.EndedAt,
			UpdatedAt:            &at,
		},
	}
}

// PlayerChanged builds an event for a player row.
func PlayerChanged(eventType EventType, player Player) ChangeEvent {
	p := player
	return ChangeEvent{
		Type:      eventType,
		Table:     TablePlayers,
		SessionID: player.SessionID,
		Player:    &p,
	}
}
