package domain

import "time"

// AnswerColor is the display color of an answer tile. Four colors by
// convention, one per answer.
type AnswerColor string

const (
	ColorRed    AnswerColor = "red"
	ColorBlue   AnswerColor = "blue"
	ColorYellow AnswerColor = "yellow"
	ColorGreen  AnswerColor = "green"
)

// SessionStatus is the overall lifecycle state of a game session.
type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusPlaying  SessionStatus = "playing"
	StatusFinished SessionStatus = "finished"
)

// SessionPhase is the sub-state of an active session. Only meaningful
// while the session status is playing.
type SessionPhase string

const (
	PhaseQuestion   SessionPhase = "question"
	PhaseResults    SessionPhase = "results"
	PhaseScoreboard SessionPhase = "scoreboard"
)

// Answer is one selectable option of a question. Correct is never exposed
// on the public read path; see PublicAnswer.
type Answer struct {
	ID         string      `json:"id"`
	QuestionID string      `json:"questionId"`
	Text       string      `json:"text"`
	Color      AnswerColor `json:"color"`
	Correct    bool        `json:"correct"`
	SortOrder  int         `json:"sortOrder"`
}

// Question is a timed multiple-choice question with exactly one correct answer.
type Question struct {
	ID        string   `json:"id"`
	QuizID    string   `json:"quizId"`
	Text      string   `json:"text"`
	TimeLimit int      `json:"timeLimit"` // seconds
	Points    int      `json:"points"`    // max awardable
	SortOrder int      `json:"sortOrder"`
	Answers   []Answer `json:"answers"`
}

// Quiz is an immutable set of ordered questions with a join code.
type Quiz struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Code        string     `json:"code"`
	HostID      string     `json:"hostId"`
	CreatedAt   time.Time  `json:"createdAt"`
	Questions   []Question `json:"questions"`
}

// PublicAnswer is the answer projection served to joining players. It
// deliberately has no correctness field.
type PublicAnswer struct {
	ID         string      `json:"id"`
	QuestionID string      `json:"questionId"`
	Text       string      `json:"text"`
	Color      AnswerColor `json:"color"`
	SortOrder  int         `json:"sortOrder"`
}

// PublicQuestion mirrors Question with stripped answers.
type PublicQuestion struct {
	ID        string         `json:"id"`
	QuizID    string         `json:"quizId"`
	Text      string         `json:"text"`
	TimeLimit int            `json:"timeLimit"`
	Points    int            `json:"points"`
	SortOrder int            `json:"sortOrder"`
	Answers   []PublicAnswer `json:"answers"`
}

// PublicQuiz is the quiz as seen by anyone holding the join code.
type PublicQuiz struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Code        string           `json:"code"`
	CreatedAt   time.Time        `json:"createdAt"`
	Questions   []PublicQuestion `json:"questions"`
}

// Public strips correctness from every answer of the quiz.
func (q Quiz) Public() PublicQuiz {
	pub := PublicQuiz{
		ID:          q.ID,
		Title:       q.Title,
		Description: q.Description,
		Code:        q.Code,
		CreatedAt:   q.CreatedAt,
		Questions:   make([]PublicQuestion, 0, len(q.Questions)),
	}
	for _, question := range q.Questions {
		pq := PublicQuestion{
			ID:        question.ID,
			QuizID:    question.QuizID,
			Text:      question.Text,
			TimeLimit: question.TimeLimit,
			Points:    question.Points,
			SortOrder: question.SortOrder,
			Answers:   make([]PublicAnswer, 0, len(question.Answers)),
		}
		for _, answer := range question.Answers {
			pq.Answers = append(pq.Answers, PublicAnswer{
				ID:         answer.ID,
				QuestionID: answer.QuestionID,
				Text:       answer.Text,
				Color:      answer.Color,
				SortOrder:  answer.SortOrder,
			})
		}
		pub.Questions = append(pub.Questions, pq)
	}
	return pub
}

// CorrectAnswerID returns the id of the question's correct answer, or "".
func (q Question) CorrectAnswerID() string {
	for _, a := range q.Answers {
		if a.Correct {
			return a.ID
		}
	}
	return ""
}

// GameSession is one played instance of a quiz. It is the single source of
// truth for phase progression; only the host writes it.
type GameSession struct {
	ID                   string        `json:"id"`
	QuizID               string        `json:"quizId"`
	Code                 string        `json:"code"`
	Status               SessionStatus `json:"status"`
	Phase                SessionPhase  `json:"phase"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	HostID               string        `json:"hostId"`
	QuestionStartedAt    *time.Time    `json:"questionStartedAt"`
	StartedAt            *time.Time    `json:"startedAt"`
	EndedAt              *time.Time    `json:"endedAt"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

// SessionUpdate is a partial write against a GameSession. Nil fields are
// left untouched; UpdatedAt is always stamped by the store.
type SessionUpdate struct {
	Status               *SessionStatus `json:"status,omitempty"`
	Phase                *SessionPhase  `json:"phase,omitempty"`
	CurrentQuestionIndex *int           `json:"currentQuestionIndex,omitempty"`
	QuestionStartedAt    *time.Time     `json:"questionStartedAt,omitempty"`
	StartedAt            *time.Time     `json:"startedAt,omitempty"`
	EndedAt              *time.Time     `json:"endedAt,omitempty"`
}

// Player is a participant of one session. UserID holds the anonymous
// principal; it is empty on legacy host rows.
type Player struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Score     int       `json:"score"`
	IsHost    bool      `json:"isHost"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// PlayerAnswer is the append-only submission ledger. AnswerID is empty
// when the player timed out without selecting.
type PlayerAnswer struct {
	ID            string    `json:"id"`
	PlayerID      string    `json:"playerId"`
	QuestionID    string    `json:"questionId"`
	AnswerID      string    `json:"answerId"`
	TimeRemaining int       `json:"timeRemaining"`
	Correct       bool      `json:"correct"`
	PointsEarned  int       `json:"pointsEarned"`
	AnsweredAt    time.Time `json:"answeredAt"`
}

// SubmitResult is returned to the submitting player. CorrectAnswerID is
// revealed here and only here.
type SubmitResult struct {
	Correct         bool   `json:"correct"`
	PointsEarned    int    `json:"pointsEarned"`
	CorrectAnswerID string `json:"correctAnswerId"`
	NewScore        int    `json:"newScore"`
}

// AnswerCount is the per-answer submission tally for the host dashboard.
type AnswerCount struct {
	AnswerID string      `json:"answerId"`
	Text     string      `json:"text"`
	Color    AnswerColor `json:"color"`
	Count    int         `json:"count"`
}

// AnswerStats aggregates one question's submissions across the session.
// TotalPlayers counts eligible (non-host) players.
type AnswerStats struct {
	TotalPlayers    int           `json:"totalPlayers"`
	TotalAnswers    int           `json:"totalAnswers"`
	CorrectAnswerID string        `json:"correctAnswerId"`
	Answers         []AnswerCount `json:"answers"`
}

// AllAnswered reports whether every eligible player has submitted. An
// empty lobby never counts as all-answered.
func (s AnswerStats) AllAnswered() bool {
	return s.TotalPlayers > 0 && s.TotalAnswers >= s.TotalPlayers
}
