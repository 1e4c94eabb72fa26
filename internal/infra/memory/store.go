package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quibly/internal/domain"
)

type submissionKey struct {
	playerID   string
	questionID string
}

// Store is the in-memory implementation of app.Store and app.Feed. It
// mirrors the SQL schema's uniqueness guarantees: one quiz per code, one
// non-host player per (session, principal), one ledger row per
// (player, question).
type Store struct {
	clock func() time.Time

	mu          sync.RWMutex
	quizzes     map[string]domain.Quiz
	quizByCode  map[string]string
	questions   map[string]domain.Question
	sessions    map[string]domain.GameSession
	players     map[string]domain.Player
	ledger      map[string]domain.PlayerAnswer
	submissions map[submissionKey]string
	subscribers map[string]map[chan domain.ChangeEvent]struct{}
}

func NewStore() *Store {
	return &Store{
		clock:       time.Now,
		quizzes:     make(map[string]domain.Quiz),
		quizByCode:  make(map[string]string),
		questions:   make(map[string]domain.Question),
		sessions:    make(map[string]domain.GameSession),
		players:     make(map[string]domain.Player),
		ledger:      make(map[string]domain.PlayerAnswer),
		submissions: make(map[submissionKey]string),
		subscribers: make(map[string]map[chan domain.ChangeEvent]struct{}),
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) InsertQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.quizByCode[quiz.Code]; taken {
		return domain.ErrCodeTaken
	}
	s.quizzes[quiz.ID] = quiz
	s.quizByCode[quiz.Code] = quiz.ID
	for _, q := range quiz.Questions {
		s.questions[q.ID] = q
	}
	return nil
}

func (s *Store) QuizByCode(_ context.Context, code string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.quizByCode[code]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return s.quizzes[id], nil
}

func (s *Store) InsertSession(_ context.Context, session domain.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) SessionByID(_ context.Context, id string) (domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) WaitingSessionByCode(_ context.Context, code string) (domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.Code == code && session.Status == domain.StatusWaiting {
			return session, nil
		}
	}
	return domain.GameSession{}, domain.ErrSessionNotFound
}

func (s *Store) UpdateSession(_ context.Context, id string, update domain.SessionUpdate, updatedAt time.Time) (domain.GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	if update.Status != nil {
		session.Status = *update.Status
	}
	if update.Phase != nil {
		session.Phase = *update.Phase
	}
	if update.CurrentQuestionIndex != nil {
		session.CurrentQuestionIndex = *update.CurrentQuestionIndex
	}
	if update.QuestionStartedAt != nil {
		t := *update.QuestionStartedAt
		session.QuestionStartedAt = &t
	}
	if update.StartedAt != nil {
		t := *update.StartedAt
		session.StartedAt = &t
	}
	if update.EndedAt != nil {
		t := *update.EndedAt
		session.EndedAt = &t
	}
	session.UpdatedAt = updatedAt
	s.sessions[id] = session
	return session, nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	for playerID, player := range s.players {
		if player.SessionID != id {
			continue
		}
		delete(s.players, playerID)
		for key, answerID := range s.submissions {
			if key.playerID == playerID {
				delete(s.submissions, key)
				delete(s.ledger, answerID)
			}
		}
	}
	return nil
}

func (s *Store) InsertPlayer(_ context.Context, player domain.Player) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[player.SessionID]; !ok {
		return domain.Player{}, domain.ErrSessionNotFound
	}
	// Uniqueness per (session, principal) for non-host rows: a duplicate
	// join returns the existing row.
	if !player.IsHost && player.UserID != "" {
		for _, existing := range s.players {
			if existing.SessionID == player.SessionID && existing.UserID == player.UserID && !existing.IsHost {
				return existing, nil
			}
		}
	}
	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	s.players[player.ID] = player
	return player, nil
}

func (s *Store) PlayerByID(_ context.Context, id string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return player, nil
}

func (s *Store) PlayerBySessionUser(_ context.Context, sessionID, userID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, player := range s.players {
		if player.SessionID == sessionID && player.UserID == userID && !player.IsHost {
			return player, nil
		}
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

func (s *Store) PlayersBySession(_ context.Context, sessionID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players := make([]domain.Player, 0)
	for _, player := range s.players {
		if player.SessionID == sessionID {
			players = append(players, player)
		}
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
	return players, nil
}

func (s *Store) RemovePlayer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; !ok {
		return domain.ErrPlayerNotFound
	}
	delete(s.players, id)
	return nil
}

// SubmitAnswer is the atomic scoring procedure. The (player, question)
// uniqueness check and the score increment happen under one lock, so a
// racing resubmission can never double-credit.
func (s *Store) SubmitAnswer(_ context.Context, playerID, questionID, answerID string, timeRemaining int) (domain.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, ok := s.players[playerID]
	if !ok {
		return domain.SubmitResult{}, domain.ErrPlayerNotFound
	}
	question, ok := s.questions[questionID]
	if !ok {
		return domain.SubmitResult{}, domain.ErrQuestionNotFound
	}

	key := submissionKey{playerID: playerID, questionID: questionID}
	if _, dup := s.submissions[key]; dup {
		return domain.SubmitResult{}, domain.ErrAlreadyAnswered
	}

	correctID := question.CorrectAnswerID()
	correct := false
	if answerID != "" {
		found := false
		for _, a := range question.Answers {
			if a.ID == answerID {
				found = true
				break
			}
		}
		if !found {
			return domain.SubmitResult{}, domain.ErrAnswerNotFound
		}
		correct = answerID == correctID
	}
	if timeRemaining < 0 {
		timeRemaining = 0
	}

	points := domain.AwardPoints(question.Points, question.TimeLimit, timeRemaining, correct)
	record := domain.PlayerAnswer{
		ID:            uuid.NewString(),
		PlayerID:      playerID,
		QuestionID:    questionID,
		AnswerID:      answerID,
		TimeRemaining: timeRemaining,
		Correct:       correct,
		PointsEarned:  points,
		AnsweredAt:    s.clock(),
	}
	s.ledger[record.ID] = record
	s.submissions[key] = record.ID

	player.Score += points
	s.players[playerID] = player

	return domain.SubmitResult{
		Correct:         correct,
		PointsEarned:    points,
		CorrectAnswerID: correctID,
		NewScore:        player.Score,
	}, nil
}

func (s *Store) AnswerStats(_ context.Context, sessionID, questionID string) (domain.AnswerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	question, ok := s.questions[questionID]
	if !ok {
		return domain.AnswerStats{}, domain.ErrQuestionNotFound
	}

	stats := domain.AnswerStats{CorrectAnswerID: question.CorrectAnswerID()}
	counts := make(map[string]int)
	for _, player := range s.players {
		if player.SessionID != sessionID || player.IsHost {
			continue
		}
		stats.TotalPlayers++
		if answerRowID, answered := s.submissions[submissionKey{playerID: player.ID, questionID: questionID}]; answered {
			stats.TotalAnswers++
			if record := s.ledger[answerRowID]; record.AnswerID != "" {
				counts[record.AnswerID]++
			}
		}
	}
	for _, answer := range question.Answers {
		stats.Answers = append(stats.Answers, domain.AnswerCount{
			AnswerID: answer.ID,
			Text:     answer.Text,
			Color:    answer.Color,
			Count:    counts[answer.ID],
		})
	}
	return stats, nil
}

func (s *Store) PlayerAnswers(_ context.Context, sessionID string) ([]domain.PlayerAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]domain.PlayerAnswer, 0)
	for _, record := range s.ledger {
		player, ok := s.players[record.PlayerID]
		if ok && player.SessionID == sessionID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].AnsweredAt.Before(records[j].AnsweredAt)
	})
	return records, nil
}
