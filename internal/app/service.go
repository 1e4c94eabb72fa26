package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quibly/internal/domain"
)

// Store abstracts the persistent record store (in-memory, Postgres).
// SubmitAnswer and AnswerStats are atomic procedures: the store is the
// correctness boundary for at-most-once scoring, not the callers.
type Store interface {
	InsertQuiz(ctx context.Context, quiz domain.Quiz) error
	QuizByCode(ctx context.Context, code string) (domain.Quiz, error)

	InsertSession(ctx context.Context, session domain.GameSession) error
	SessionByID(ctx context.Context, id string) (domain.GameSession, error)
	WaitingSessionByCode(ctx context.Context, code string) (domain.GameSession, error)
	UpdateSession(ctx context.Context, id string, update domain.SessionUpdate, updatedAt time.Time) (domain.GameSession, error)
	DeleteSession(ctx context.Context, id string) error

	InsertPlayer(ctx context.Context, player domain.Player) (domain.Player, error)
	PlayerByID(ctx context.Context, id string) (domain.Player, error)
	PlayerBySessionUser(ctx context.Context, sessionID, userID string) (domain.Player, error)
	PlayersBySession(ctx context.Context, sessionID string) ([]domain.Player, error)
	RemovePlayer(ctx context.Context, id string) error

	SubmitAnswer(ctx context.Context, playerID, questionID, answerID string, timeRemaining int) (domain.SubmitResult, error)
	AnswerStats(ctx context.Context, sessionID, questionID string) (domain.AnswerStats, error)
	PlayerAnswers(ctx context.Context, sessionID string) ([]domain.PlayerAnswer, error)
}

// Feed is the change-notification channel between clients. Publish is
// best-effort; polling compensates for anything a subscriber misses.
type Feed interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
	Subscribe(ctx context.Context, sessionID string) (<-chan domain.ChangeEvent, func(), error)
}

// PublicQuizSource serves the correctness-stripped quiz read path. The
// redis cache wraps this; StoreQuizSource adapts a bare Store.
type PublicQuizSource interface {
	PublicQuizByCode(ctx context.Context, code string) (domain.PublicQuiz, error)
}

// StoreQuizSource reads public quizzes straight from the store.
type StoreQuizSource struct {
	Store Store
}

func (s StoreQuizSource) PublicQuizByCode(ctx context.Context, code string) (domain.PublicQuiz, error) {
	quiz, err := s.Store.QuizByCode(ctx, code)
	if err != nil {
		return domain.PublicQuiz{}, err
	}
	return quiz.Public(), nil
}

// AnswerDraft is one answer of a question being authored.
type AnswerDraft struct {
	Text    string             `json:"text"`
	Color   domain.AnswerColor `json:"color"`
	Correct bool               `json:"correct"`
}

// QuestionDraft is one question of a quiz being authored.
type QuestionDraft struct {
	Text      string        `json:"text"`
	TimeLimit int           `json:"timeLimit"`
	Points    int           `json:"points"`
	Answers   []AnswerDraft `json:"answers"`
}

// GameService implements the operation set clients coordinate through.
type GameService struct {
	store   Store
	feed    Feed
	quizzes PublicQuizSource
	log     zerolog.Logger
	now     func() time.Time
}

func NewGameService(store Store, feed Feed, quizzes PublicQuizSource, log zerolog.Logger) *GameService {
	if quizzes == nil {
		quizzes = StoreQuizSource{Store: store}
	}
	return &GameService{
		store:   store,
		feed:    feed,
		quizzes: quizzes,
		log:     log,
		now:     time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *GameService) WithClock(now func() time.Time) *GameService {
	s.now = now
	return s
}

// CreateQuiz persists a quiz with a fresh unique join code, retrying on
// collision up to a bounded attempt count.
func (s *GameService) CreateQuiz(ctx context.Context, hostID, title, description string, drafts []QuestionDraft) (domain.Quiz, error) {
	if hostID == "" {
		return domain.Quiz{}, domain.ErrAuthUnavailable
	}
	questions, err := buildQuestions(drafts)
	if err != nil {
		return domain.Quiz{}, err
	}

	quiz := domain.Quiz{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		HostID:      hostID,
		CreatedAt:   s.now(),
		Questions:   questions,
	}
	for i := range quiz.Questions {
		quiz.Questions[i].QuizID = quiz.ID
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		quiz.Code = newCode()
		err := s.store.InsertQuiz(ctx, quiz)
		if err == nil {
			return quiz, nil
		}
		if err != domain.ErrCodeTaken {
			return domain.Quiz{}, err
		}
		s.log.Warn().Str("code", quiz.Code).Int("attempt", attempt+1).Msg("quiz code collision, retrying")
	}
	return domain.Quiz{}, domain.ErrCodeExhausted
}

func buildQuestions(drafts []QuestionDraft) ([]domain.Question, error) {
	questions := make([]domain.Question, 0, len(drafts))
	for i, draft := range drafts {
		if draft.Text == "" || draft.TimeLimit <= 0 || draft.Points <= 0 || len(draft.Answers) < 2 {
			return nil, domain.ErrQuestionNotFound
		}
		question := domain.Question{
			ID:        uuid.NewString(),
			Text:      draft.Text,
			TimeLimit: draft.TimeLimit,
			Points:    draft.Points,
			SortOrder: i,
			Answers:   make([]domain.Answer, 0, len(draft.Answers)),
		}
		correct := 0
		for j, a := range draft.Answers {
			if a.Correct {
				correct++
			}
			question.Answers = append(question.Answers, domain.Answer{
				ID:         uuid.NewString(),
				QuestionID: question.ID,
				Text:       a.Text,
				Color:      a.Color,
				Correct:    a.Correct,
				SortOrder:  j,
			})
		}
		if correct != 1 {
			return nil, domain.ErrAnswerNotFound
		}
		questions = append(questions, question)
	}
	return questions, nil
}

// GetQuizByCode serves the public projection; correctness never leaves
// the store on this path.
func (s *GameService) GetQuizByCode(ctx context.Context, code string) (domain.PublicQuiz, error) {
	return s.quizzes.PublicQuizByCode(ctx, NormalizeCode(code))
}

// NormalizeCode applies the join-form normalization: trimmed, uppercased,
// capped at the code length.
func NormalizeCode(raw string) string {
	code := make([]byte, 0, CodeLength)
	for i := 0; i < len(raw) && len(code) < CodeLength; i++ {
		c := raw[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		code = append(code, c)
	}
	return string(code)
}

// CreateGameSession opens a waiting session for a quiz, copying its code.
func (s *GameService) CreateGameSession(ctx context.Context, quizID, code, hostID string) (domain.GameSession, error) {
	if hostID == "" {
		return domain.GameSession{}, domain.ErrAuthUnavailable
	}
	now := s.now()
	session := domain.GameSession{
		ID:        uuid.NewString(),
		QuizID:    quizID,
		Code:      code,
		Status:    domain.StatusWaiting,
		Phase:     domain.PhaseQuestion,
		HostID:    hostID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertSession(ctx, session); err != nil {
		return domain.GameSession{}, err
	}
	return session, nil
}

func (s *GameService) GetSessionByID(ctx context.Context, id string) (domain.GameSession, error) {
	return s.store.SessionByID(ctx, id)
}

// GetWaitingSessionByCode resolves a join code to a session still in the
// lobby. Started or finished sessions are not joinable.
func (s *GameService) GetWaitingSessionByCode(ctx context.Context, code string) (domain.GameSession, error) {
	return s.store.WaitingSessionByCode(ctx, NormalizeCode(code))
}

// JoinGame registers a player, idempotently per (session, principal):
// a repeated join returns the existing row instead of erroring.
func (s *GameService) JoinGame(ctx context.Context, sessionID, userID, name string, isHost bool) (domain.Player, error) {
	if userID == "" {
		return domain.Player{}, domain.ErrAuthUnavailable
	}
	if existing, err := s.store.PlayerBySessionUser(ctx, sessionID, userID); err == nil {
		if !existing.IsHost || isHost {
			return existing, nil
		}
	} else if err != domain.ErrPlayerNotFound {
		return domain.Player{}, err
	}

	player := domain.Player{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Name:      name,
		IsHost:    isHost,
		JoinedAt:  s.now(),
	}
	created, err := s.store.InsertPlayer(ctx, player)
	if err != nil {
		return domain.Player{}, err
	}
	s.publish(ctx, domain.PlayerChanged(domain.EventInsert, created))
	return created, nil
}

// GetPlayers returns the roster ordered by score descending.
func (s *GameService) GetPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	return s.store.PlayersBySession(ctx, sessionID)
}

func (s *GameService) GetPlayerByID(ctx context.Context, id string) (domain.Player, error) {
	return s.store.PlayerByID(ctx, id)
}

func (s *GameService) GetPlayerBySession(ctx context.Context, sessionID, userID string) (domain.Player, error) {
	return s.store.PlayerBySessionUser(ctx, sessionID, userID)
}

// RemovePlayer deregisters a player, best-effort on quit/unload paths.
func (s *GameService) RemovePlayer(ctx context.Context, playerID string) error {
	player, err := s.store.PlayerByID(ctx, playerID)
	if err != nil {
		return err
	}
	if err := s.store.RemovePlayer(ctx, playerID); err != nil {
		return err
	}
	s.publish(ctx, domain.PlayerChanged(domain.EventDelete, player))
	return nil
}

// DeleteGameSession tears a session down entirely (host quit).
func (s *GameService) DeleteGameSession(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.publish(ctx, domain.ChangeEvent{Type: domain.EventDelete, Table: domain.TableSessions, SessionID: sessionID})
	return nil
}

// UpdateSessionState applies a partial session write, stamps UpdatedAt,
// and notifies subscribers with exactly the fields that changed.
func (s *GameService) UpdateSessionState(ctx context.Context, sessionID string, update domain.SessionUpdate) (domain.GameSession, error) {
	now := s.now()
	session, err := s.store.UpdateSession(ctx, sessionID, update, now)
	if err != nil {
		return domain.GameSession{}, err
	}
	s.publish(ctx, domain.SessionChanged(sessionID, update, session.UpdatedAt))
	return session, nil
}

// SubmitAnswer runs the atomic submission procedure and fans out the
// score change to subscribers.
func (s *GameService) SubmitAnswer(ctx context.Context, playerID, questionID, answerID string, timeRemaining int) (domain.SubmitResult, error) {
	result, err := s.store.SubmitAnswer(ctx, playerID, questionID, answerID, timeRemaining)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if player, perr := s.store.PlayerByID(ctx, playerID); perr == nil {
		s.publish(ctx, domain.PlayerChanged(domain.EventUpdate, player))
	}
	return result, nil
}

// GetAnswerStats aggregates submissions for the host dashboard. It is
// polled rather than pushed so per-player notifications coalesce.
func (s *GameService) GetAnswerStats(ctx context.Context, sessionID, questionID string) (domain.AnswerStats, error) {
	return s.store.AnswerStats(ctx, sessionID, questionID)
}

// GetPlayerAnswers exposes the ledger for derived views such as streaks.
func (s *GameService) GetPlayerAnswers(ctx context.Context, sessionID string) ([]domain.PlayerAnswer, error) {
	return s.store.PlayerAnswers(ctx, sessionID)
}

// Subscribe opens the push channel for one session.
func (s *GameService) Subscribe(ctx context.Context, sessionID string) (<-chan domain.ChangeEvent, func(), error) {
	return s.feed.Subscribe(ctx, sessionID)
}

func (s *GameService) publish(ctx context.Context, event domain.ChangeEvent) {
	if err := s.feed.Publish(ctx, event); err != nil {
		// Subscribers self-heal on their next poll cycle.
		s.log.Warn().Err(err).Str("session", event.SessionID).Msg("change feed publish failed")
	}
}
