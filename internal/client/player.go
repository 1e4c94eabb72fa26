package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quibly/internal/domain"
)

// PlayerOps is the slice of the store contract a player process needs.
type PlayerOps interface {
	SubmitAnswer(ctx context.Context, playerID, questionID, answerID string, timeRemaining int) (domain.SubmitResult, error)
	RemovePlayer(ctx context.Context, playerID string) error
}

// PlayerClient is the passive participant: it observes the session
// through its reconciler and submits at most one answer per question.
type PlayerClient struct {
	ops    PlayerOps
	rec    *Reconciler
	log    zerolog.Logger
	player domain.Player
	quiz   domain.PublicQuiz

	mu           sync.Mutex
	submittedFor int // question index already submitted, -1 when none
	score        int
	lastResult   *domain.SubmitResult
}

func NewPlayerClient(ops PlayerOps, rec *Reconciler, quiz domain.PublicQuiz, player domain.Player, log zerolog.Logger) *PlayerClient {
	return &PlayerClient{
		ops:          ops,
		rec:          rec,
		log:          log,
		player:       player,
		quiz:         quiz,
		submittedFor: -1,
		score:        player.Score,
	}
}

// Score is the locally tracked running total, kept current from
// submission responses.
func (p *PlayerClient) Score() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.score
}

// LastResult is the feedback for the most recent submission, shown when
// the phase reaches results.
func (p *PlayerClient) LastResult() *domain.SubmitResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastResult == nil {
		return nil
	}
	result := *p.lastResult
	return &result
}

// Submit sends the player's selection for the current question. answerID
// may be empty, meaning the timer ran out with no selection. The local
// already-submitted guard is a latency shortcut against double clicks;
// the store's uniqueness constraint remains the correctness boundary.
func (p *PlayerClient) Submit(ctx context.Context, answerID string) (domain.SubmitResult, error) {
	view := p.rec.View()
	session := view.Session
	if session.Status != domain.StatusPlaying || session.Phase != domain.PhaseQuestion {
		return domain.SubmitResult{}, domain.ErrInvalidTransition
	}
	idx := session.CurrentQuestionIndex
	if idx < 0 || idx >= len(p.quiz.Questions) {
		return domain.SubmitResult{}, domain.ErrQuestionNotFound
	}
	question := p.quiz.Questions[idx]

	p.mu.Lock()
	if p.submittedFor == idx {
		p.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrAlreadyAnswered
	}
	p.submittedFor = idx
	p.mu.Unlock()

	remaining := domain.RemainingSeconds(question.TimeLimit, session.QuestionStartedAt, nowOf(p.rec))
	result, err := p.ops.SubmitAnswer(ctx, p.player.ID, question.ID, answerID, remaining)
	if err != nil {
		if err == domain.ErrAlreadyAnswered {
			// Store-side replay rejection: absorbed, the first answer stands.
			return domain.SubmitResult{}, err
		}
		// Transient failure. No automatic retry: without re-verifying
		// idempotency a retry risks double submission. The guard stays
		// set; the question scores as a miss if the phase advances.
		p.log.Warn().Err(err).Str("question", question.ID).Msg("answer submission failed")
		return domain.SubmitResult{}, err
	}

	p.mu.Lock()
	p.score = result.NewScore
	p.lastResult = &result
	p.mu.Unlock()
	return result, nil
}

// Tick drives the timeout path: once the timer hits zero with nothing
// submitted, an explicit no-answer is recorded.
func (p *PlayerClient) Tick(ctx context.Context) {
	view := p.rec.View()
	session := view.Session
	if session.Status != domain.StatusPlaying || session.Phase != domain.PhaseQuestion {
		return
	}
	idx := session.CurrentQuestionIndex
	if idx < 0 || idx >= len(p.quiz.Questions) {
		return
	}

	p.mu.Lock()
	submitted := p.submittedFor == idx
	p.mu.Unlock()
	if submitted {
		return
	}

	question := p.quiz.Questions[idx]
	if session.QuestionStartedAt == nil {
		return
	}
	if domain.RemainingSeconds(question.TimeLimit, session.QuestionStartedAt, nowOf(p.rec)) > 0 {
		return
	}
	if _, err := p.Submit(ctx, ""); err != nil && err != domain.ErrAlreadyAnswered {
		p.log.Warn().Err(err).Str("question", question.ID).Msg("timeout submission failed")
	}
}

// Leave deregisters the player, best-effort, on quit or teardown.
func (p *PlayerClient) Leave(ctx context.Context) {
	if err := p.ops.RemovePlayer(ctx, p.player.ID); err != nil {
		p.log.Debug().Err(err).Str("player", p.player.ID).Msg("player deregistration failed")
	}
}

// nowOf reuses the reconciler's clock so tests drive one time source.
func nowOf(r *Reconciler) time.Time { return r.now() }
