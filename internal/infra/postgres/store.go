package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quibly/internal/domain"
)

const pgUniqueViolation = "23505"

// Store is the Postgres implementation of app.Store. The schema's unique
// indexes are the correctness boundary for join idempotency and
// at-most-once scoring; this code only translates their violations into
// domain errors.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (s *Store) InsertQuiz(ctx context.Context, quiz domain.Quiz) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert quiz: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO quizzes (id, title, description, code, host_id, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		quiz.ID, quiz.Title, quiz.Description, quiz.Code, quiz.HostID, quiz.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCodeTaken
		}
		return fmt.Errorf("insert quiz: %w", err)
	}

	for _, q := range quiz.Questions {
		_, err = tx.Exec(ctx,
			`INSERT INTO questions (id, quiz_id, text, time_limit, points, sort_order) VALUES ($1,$2,$3,$4,$5,$6)`,
			q.ID, quiz.ID, q.Text, q.TimeLimit, q.Points, q.SortOrder)
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
		for _, a := range q.Answers {
			_, err = tx.Exec(ctx,
				`INSERT INTO answers (id, question_id, text, color, is_correct, sort_order) VALUES ($1,$2,$3,$4,$5,$6)`,
				a.ID, q.ID, a.Text, string(a.Color), a.Correct, a.SortOrder)
			if err != nil {
				return fmt.Errorf("insert answer: %w", err)
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) QuizByCode(ctx context.Context, code string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, description, code, host_id, created_at FROM quizzes WHERE code=$1`, code).
		Scan(&quiz.ID, &quiz.Title, &quiz.Description, &quiz.Code, &quiz.HostID, &quiz.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT q.id, q.text, q.time_limit, q.points, q.sort_order,
		        a.id, a.text, a.color, a.is_correct, a.sort_order
		 FROM questions q
		 JOIN answers a ON a.question_id = q.id
		 WHERE q.quiz_id = $1
		 ORDER BY q.sort_order, a.sort_order`, quiz.ID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]int)
	for rows.Next() {
		var q domain.Question
		var a domain.Answer
		var color string
		if err := rows.Scan(&q.ID, &q.Text, &q.TimeLimit, &q.Points, &q.SortOrder,
			&a.ID, &a.Text, &color, &a.Correct, &a.SortOrder); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan question: %w", err)
		}
		a.Color = domain.AnswerColor(color)
		a.QuestionID = q.ID
		q.QuizID = quiz.ID
		idx, seen := byID[q.ID]
		if !seen {
			idx = len(quiz.Questions)
			byID[q.ID] = idx
			quiz.Questions = append(quiz.Questions, q)
		}
		quiz.Questions[idx].Answers = append(quiz.Questions[idx].Answers, a)
	}
	if err := rows.Err(); err != nil {
		return domain.Quiz{}, fmt.Errorf("iterate questions: %w", err)
	}
	return quiz, nil
}

const sessionColumns = `id, quiz_id, code, status, phase, current_question_index, host_id,
	question_started_at, started_at, ended_at, created_at, updated_at`

func scanSession(row pgx.Row) (domain.GameSession, error) {
	var session domain.GameSession
	var status, phase string
	err := row.Scan(&session.ID, &session.QuizID, &session.Code, &status, &phase,
		&session.CurrentQuestionIndex, &session.HostID,
		&session.QuestionStartedAt, &session.StartedAt, &session.EndedAt,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return domain.GameSession{}, err
	}
	session.Status = domain.SessionStatus(status)
	session.Phase = domain.SessionPhase(phase)
	return session, nil
}

func (s *Store) InsertSession(ctx context.Context, session domain.GameSession) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO game_sessions (id, quiz_id, code, status, phase, current_question_index, host_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		session.ID, session.QuizID, session.Code, string(session.Status), string(session.Phase),
		session.CurrentQuestionIndex, session.HostID, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) SessionByID(ctx context.Context, id string) (domain.GameSession, error) {
	session, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM game_sessions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GameSession{}, domain.ErrSessionNotFound
		}
		return domain.GameSession{}, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

func (s *Store) WaitingSessionByCode(ctx context.Context, code string) (domain.GameSession, error) {
	session, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM game_sessions WHERE code=$1 AND status='waiting' ORDER BY created_at DESC LIMIT 1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GameSession{}, domain.ErrSessionNotFound
		}
		return domain.GameSession{}, fmt.Errorf("load waiting session: %w", err)
	}
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, update domain.SessionUpdate, updatedAt time.Time) (domain.GameSession, error) {
	sets := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, column+"=$"+strconv.Itoa(len(args)))
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.Phase != nil {
		add("phase", string(*update.Phase))
	}
	if update.CurrentQuestionIndex != nil {
		add("current_question_index", *update.CurrentQuestionIndex)
	}
	if update.QuestionStartedAt != nil {
		add("question_started_at", *update.QuestionStartedAt)
	}
	if update.StartedAt != nil {
		add("started_at", *update.StartedAt)
	}
	if update.EndedAt != nil {
		add("ended_at", *update.EndedAt)
	}
	add("updated_at", updatedAt)
	args = append(args, id)

	query := `UPDATE game_sessions SET ` + strings.Join(sets, ", ") +
		` WHERE id=$` + strconv.Itoa(len(args)) + ` RETURNING ` + sessionColumns
	session, err := scanSession(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GameSession{}, domain.ErrSessionNotFound
		}
		return domain.GameSession{}, fmt.Errorf("update session: %w", err)
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM game_sessions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

const playerColumns = `id, session_id, COALESCE(user_id, ''), name, score, is_host, joined_at`

func scanPlayer(row pgx.Row) (domain.Player, error) {
	var player domain.Player
	err := row.Scan(&player.ID, &player.SessionID, &player.UserID, &player.Name,
		&player.Score, &player.IsHost, &player.JoinedAt)
	return player, err
}

func (s *Store) InsertPlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	var userID interface{}
	if player.UserID != "" {
		userID = player.UserID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO players (id, session_id, user_id, name, score, is_host, joined_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		player.ID, player.SessionID, userID, player.Name, player.Score, player.IsHost, player.JoinedAt)
	if err == nil {
		return player, nil
	}
	if isUniqueViolation(err) {
		// Duplicate join: resolve to the existing row.
		existing, lookupErr := s.PlayerBySessionUser(ctx, player.SessionID, player.UserID)
		if lookupErr == nil {
			return existing, nil
		}
		return domain.Player{}, lookupErr
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" { // fk: session gone
		return domain.Player{}, domain.ErrSessionNotFound
	}
	return domain.Player{}, fmt.Errorf("insert player: %w", err)
}

func (s *Store) PlayerByID(ctx context.Context, id string) (domain.Player, error) {
	player, err := scanPlayer(s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Player{}, domain.ErrPlayerNotFound
		}
		return domain.Player{}, fmt.Errorf("load player: %w", err)
	}
	return player, nil
}

func (s *Store) PlayerBySessionUser(ctx context.Context, sessionID, userID string) (domain.Player, error) {
	player, err := scanPlayer(s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE session_id=$1 AND user_id=$2 AND NOT is_host`, sessionID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Player{}, domain.ErrPlayerNotFound
		}
		return domain.Player{}, fmt.Errorf("load player by user: %w", err)
	}
	return player, nil
}

func (s *Store) PlayersBySession(ctx context.Context, sessionID string) ([]domain.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+playerColumns+` FROM players WHERE session_id=$1 ORDER BY score DESC, joined_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	defer rows.Close()

	players := make([]domain.Player, 0)
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, player)
	}
	return players, rows.Err()
}

func (s *Store) RemovePlayer(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM players WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("remove player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// SubmitAnswer is the atomic scoring procedure: ledger insert and score
// increment commit together or not at all. The (player_id, question_id)
// unique constraint makes a replay insert zero rows, which is reported
// as ErrAlreadyAnswered without touching the score.
func (s *Store) SubmitAnswer(ctx context.Context, playerID, questionID, answerID string, timeRemaining int) (domain.SubmitResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("begin submit: %w", err)
	}
	defer tx.Rollback(ctx)

	var score int
	err = tx.QueryRow(ctx, `SELECT score FROM players WHERE id=$1 FOR UPDATE`, playerID).Scan(&score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SubmitResult{}, domain.ErrPlayerNotFound
		}
		return domain.SubmitResult{}, fmt.Errorf("lock player: %w", err)
	}

	var timeLimit, points int
	err = tx.QueryRow(ctx, `SELECT time_limit, points FROM questions WHERE id=$1`, questionID).Scan(&timeLimit, &points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SubmitResult{}, domain.ErrQuestionNotFound
		}
		return domain.SubmitResult{}, fmt.Errorf("load question: %w", err)
	}

	var correctID string
	err = tx.QueryRow(ctx, `SELECT id FROM answers WHERE question_id=$1 AND is_correct`, questionID).Scan(&correctID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.SubmitResult{}, fmt.Errorf("load correct answer: %w", err)
	}

	correct := false
	var answerValue interface{}
	if answerID != "" {
		var belongs bool
		err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM answers WHERE id=$1 AND question_id=$2)`, answerID, questionID).Scan(&belongs)
		if err != nil {
			return domain.SubmitResult{}, fmt.Errorf("check answer: %w", err)
		}
		if !belongs {
			return domain.SubmitResult{}, domain.ErrAnswerNotFound
		}
		correct = answerID == correctID
		answerValue = answerID
	}
	if timeRemaining < 0 {
		timeRemaining = 0
	}
	earned := domain.AwardPoints(points, timeLimit, timeRemaining, correct)

	tag, err := tx.Exec(ctx,
		`INSERT INTO player_answers (id, player_id, question_id, answer_id, time_remaining, is_correct, points_earned, answered_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		 ON CONFLICT (player_id, question_id) DO NOTHING`,
		uuid.NewString(), playerID, questionID, answerValue, timeRemaining, correct, earned)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("insert answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.SubmitResult{}, domain.ErrAlreadyAnswered
	}

	err = tx.QueryRow(ctx, `UPDATE players SET score = score + $1 WHERE id=$2 RETURNING score`, earned, playerID).Scan(&score)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("update score: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("commit submit: %w", err)
	}
	return domain.SubmitResult{
		Correct:         correct,
		PointsEarned:    earned,
		CorrectAnswerID: correctID,
		NewScore:        score,
	}, nil
}

func (s *Store) AnswerStats(ctx context.Context, sessionID, questionID string) (domain.AnswerStats, error) {
	stats := domain.AnswerStats{}

	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM players WHERE session_id=$1 AND NOT is_host`, sessionID).Scan(&stats.TotalPlayers)
	if err != nil {
		return domain.AnswerStats{}, fmt.Errorf("count players: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM player_answers pa
		 JOIN players p ON p.id = pa.player_id
		 WHERE p.session_id=$1 AND pa.question_id=$2 AND NOT p.is_host`, sessionID, questionID).Scan(&stats.TotalAnswers)
	if err != nil {
		return domain.AnswerStats{}, fmt.Errorf("count answers: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.text, a.color, a.is_correct,
		        (SELECT count(*) FROM player_answers pa
		         JOIN players p ON p.id = pa.player_id
		         WHERE pa.answer_id = a.id AND p.session_id = $1 AND NOT p.is_host)
		 FROM answers a WHERE a.question_id=$2 ORDER BY a.sort_order`, sessionID, questionID)
	if err != nil {
		return domain.AnswerStats{}, fmt.Errorf("count per answer: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var count domain.AnswerCount
		var color string
		var isCorrect bool
		if err := rows.Scan(&count.AnswerID, &count.Text, &color, &isCorrect, &count.Count); err != nil {
			return domain.AnswerStats{}, fmt.Errorf("scan answer count: %w", err)
		}
		count.Color = domain.AnswerColor(color)
		if isCorrect {
			stats.CorrectAnswerID = count.AnswerID
		}
		stats.Answers = append(stats.Answers, count)
	}
	if err := rows.Err(); err != nil {
		return domain.AnswerStats{}, fmt.Errorf("iterate answer counts: %w", err)
	}
	if len(stats.Answers) == 0 {
		return domain.AnswerStats{}, domain.ErrQuestionNotFound
	}
	return stats, nil
}

func (s *Store) PlayerAnswers(ctx context.Context, sessionID string) ([]domain.PlayerAnswer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pa.id, pa.player_id, pa.question_id, COALESCE(pa.answer_id::text, ''),
		        pa.time_remaining, pa.is_correct, pa.points_earned, pa.answered_at
		 FROM player_answers pa
		 JOIN players p ON p.id = pa.player_id
		 WHERE p.session_id=$1
		 ORDER BY pa.answered_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()

	records := make([]domain.PlayerAnswer, 0)
	for rows.Next() {
		var record domain.PlayerAnswer
		if err := rows.Scan(&record.ID, &record.PlayerID, &record.QuestionID, &record.AnswerID,
			&record.TimeRemaining, &record.Correct, &record.PointsEarned, &record.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
