package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quibly/internal/domain"
)

// HostOps is the slice of the store contract the host authority needs.
type HostOps interface {
	GetAnswerStats(ctx context.Context, sessionID, questionID string) (domain.AnswerStats, error)
	GetPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
	GetPlayerAnswers(ctx context.Context, sessionID string) ([]domain.PlayerAnswer, error)
	AdvanceToResults(ctx context.Context, sessionID, hostID string) (domain.GameSession, error)
	AdvanceToScoreboard(ctx context.Context, sessionID, hostID string) (domain.GameSession, error)
	NextQuestion(ctx context.Context, sessionID, hostID string, totalQuestions int) (domain.GameSession, error)
	FinishGame(ctx context.Context, sessionID, hostID string) (domain.GameSession, error)
	DeleteGameSession(ctx context.Context, sessionID string) error
}

// HostController runs only in the host process, the sole writer of
// session phase. It advances the state machine from two independent
// triggers, first to fire wins:
//
//   - timeout: the server-anchored question timer reached zero
//   - completion: every eligible player has answered
//
// plus settling-delayed advances off results and off the scoreboard,
// each guarded by a one-shot latch per question. The scoreboard dwell
// moves to the next question, or finishes the game at the last index.
type HostController struct {
	ops         HostOps
	rec         *Reconciler
	log         zerolog.Logger
	quiz        domain.PublicQuiz
	hostID      string
	settleDelay time.Duration
	now         func() time.Time

	mu         sync.Mutex
	latchIndex int // question index the scoreboard latch is armed for, -1 when free
	latchDue   time.Time
	latchFired bool
	boardIndex int // question index the post-scoreboard latch is armed for, -1 when free
	boardDue   time.Time
	boardFired bool
}

func NewHostController(ops HostOps, rec *Reconciler, quiz domain.PublicQuiz, hostID string, settleDelay time.Duration, log zerolog.Logger) *HostController {
	return &HostController{
		ops:         ops,
		rec:         rec,
		log:         log,
		quiz:        quiz,
		hostID:      hostID,
		settleDelay: settleDelay,
		now:         time.Now,
		latchIndex:  -1,
		boardIndex:  -1,
	}
}

// WithClock is test-only.
func (h *HostController) WithClock(now func() time.Time) *HostController {
	h.now = now
	return h
}

// Run evaluates the heuristics on a fixed cadence until ctx is canceled.
func (h *HostController) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Step(ctx)
		}
	}
}

// Step runs one heuristic evaluation against the current view. It is
// deliberately synchronous so the decision logic is testable without
// timers.
func (h *HostController) Step(ctx context.Context) {
	view := h.rec.View()
	session := view.Session
	if session.Status != domain.StatusPlaying {
		return
	}
	idx := session.CurrentQuestionIndex
	if idx < 0 || idx >= len(h.quiz.Questions) {
		return
	}
	question := h.quiz.Questions[idx]

	switch session.Phase {
	case domain.PhaseQuestion:
		h.resetLatchFor(idx)
		h.stepQuestion(ctx, session, question)
	case domain.PhaseResults:
		h.stepResults(ctx, session, question)
	case domain.PhaseScoreboard:
		h.stepScoreboard(ctx, session)
	}
}

func (h *HostController) stepQuestion(ctx context.Context, session domain.GameSession, question domain.PublicQuestion) {
	// Timeout trigger: only meaningful once the timer anchor is known.
	if session.QuestionStartedAt != nil &&
		domain.RemainingSeconds(question.TimeLimit, session.QuestionStartedAt, h.now()) == 0 {
		h.advanceToResults(ctx, session.ID, "timeout")
		return
	}

	stats, err := h.ops.GetAnswerStats(ctx, session.ID, question.ID)
	if err != nil {
		h.log.Warn().Err(err).Str("session", session.ID).Msg("answer stats poll failed")
		return
	}
	// Completion trigger: never fires vacuously on an empty lobby.
	if stats.AllAnswered() {
		h.advanceToResults(ctx, session.ID, "all answered")
	}
}

func (h *HostController) advanceToResults(ctx context.Context, sessionID, reason string) {
	if _, err := h.ops.AdvanceToResults(ctx, sessionID, h.hostID); err != nil {
		if err == domain.ErrInvalidTransition {
			return // another trigger or a manual control won the race
		}
		h.log.Warn().Err(err).Str("session", sessionID).Msg("advance to results failed")
		return
	}
	h.log.Info().Str("session", sessionID).Str("trigger", reason).Msg("advanced to results")
}

func (h *HostController) stepResults(ctx context.Context, session domain.GameSession, question domain.PublicQuestion) {
	h.mu.Lock()
	idx := session.CurrentQuestionIndex
	if h.latchFired && h.latchIndex == idx {
		h.mu.Unlock()
		return
	}
	armed := h.latchIndex == idx
	due := h.latchDue
	h.mu.Unlock()

	if !armed {
		stats, err := h.ops.GetAnswerStats(ctx, session.ID, question.ID)
		if err != nil {
			h.log.Warn().Err(err).Str("session", session.ID).Msg("answer stats poll failed")
			return
		}
		if !stats.AllAnswered() {
			return
		}
		h.mu.Lock()
		h.latchIndex = idx
		h.latchDue = h.now().Add(h.settleDelay)
		h.latchFired = false
		h.mu.Unlock()
		return
	}

	// Settling delay lets the results view be seen before moving on.
	if h.now().Before(due) {
		return
	}
	if _, err := h.ops.AdvanceToScoreboard(ctx, session.ID, h.hostID); err != nil {
		// Release the latch so a later evaluation can retry; a transient
		// failure must not wedge the game.
		h.mu.Lock()
		h.latchIndex = -1
		h.latchFired = false
		h.mu.Unlock()
		h.log.Warn().Err(err).Str("session", session.ID).Msg("advance to scoreboard failed, latch released")
		return
	}
	h.mu.Lock()
	h.latchFired = true
	h.mu.Unlock()
	h.log.Info().Str("session", session.ID).Int("question", idx).Msg("advanced to scoreboard")
}

// stepScoreboard lets the leaderboard be seen for the settling delay,
// then moves to the next question, or finishes after the last one.
func (h *HostController) stepScoreboard(ctx context.Context, session domain.GameSession) {
	h.mu.Lock()
	idx := session.CurrentQuestionIndex
	if h.boardFired && h.boardIndex == idx {
		h.mu.Unlock()
		return
	}
	if h.boardIndex != idx {
		h.boardIndex = idx
		h.boardDue = h.now().Add(h.settleDelay)
		h.boardFired = false
		h.mu.Unlock()
		return
	}
	due := h.boardDue
	h.mu.Unlock()

	if h.now().Before(due) {
		return
	}

	last := idx == len(h.quiz.Questions)-1
	var err error
	if last {
		_, err = h.ops.FinishGame(ctx, session.ID, h.hostID)
	} else {
		_, err = h.ops.NextQuestion(ctx, session.ID, h.hostID, len(h.quiz.Questions))
	}
	if err != nil {
		if err == domain.ErrInvalidTransition {
			return // a manual control won the race
		}
		// Release the latch so a later evaluation can retry; a transient
		// failure must not wedge the game.
		h.mu.Lock()
		h.boardIndex = -1
		h.boardFired = false
		h.mu.Unlock()
		h.log.Warn().Err(err).Str("session", session.ID).Msg("advance off scoreboard failed, latch released")
		return
	}
	h.mu.Lock()
	h.boardFired = true
	h.mu.Unlock()
	if last {
		h.log.Info().Str("session", session.ID).Msg("finished game")
	} else {
		h.log.Info().Str("session", session.ID).Int("question", idx+1).Msg("advanced to next question")
	}
}

// resetLatchFor frees both latches once the phase is back at question
// for a different index.
func (h *HostController) resetLatchFor(idx int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latchIndex != -1 && h.latchIndex != idx {
		h.latchIndex = -1
		h.latchFired = false
	}
	if h.boardIndex != -1 && h.boardIndex != idx {
		h.boardIndex = -1
		h.boardFired = false
	}
}

// ShowResults is the manual host control mirroring the timeout trigger.
func (h *HostController) ShowResults(ctx context.Context) error {
	_, err := h.ops.AdvanceToResults(ctx, h.rec.View().Session.ID, h.hostID)
	return err
}

// ShowScoreboard manually advances past the results visualization.
func (h *HostController) ShowScoreboard(ctx context.Context) error {
	_, err := h.ops.AdvanceToScoreboard(ctx, h.rec.View().Session.ID, h.hostID)
	return err
}

// Next moves the game to the next question.
func (h *HostController) Next(ctx context.Context) error {
	_, err := h.ops.NextQuestion(ctx, h.rec.View().Session.ID, h.hostID, len(h.quiz.Questions))
	return err
}

// Finish ends the game after the last scoreboard.
func (h *HostController) Finish(ctx context.Context) error {
	_, err := h.ops.FinishGame(ctx, h.rec.View().Session.ID, h.hostID)
	return err
}

// Quit tears the session down entirely.
func (h *HostController) Quit(ctx context.Context) error {
	return h.ops.DeleteGameSession(ctx, h.rec.View().Session.ID)
}

// ScoreboardEntry pairs a ranked player with their running streak.
type ScoreboardEntry struct {
	Player domain.Player
	Streak int
}

// Scoreboard builds the ranked leaderboard with streaks recomputed from
// the answer ledger over the questions played so far.
func (h *HostController) Scoreboard(ctx context.Context) ([]ScoreboardEntry, error) {
	view := h.rec.View()
	players, err := h.ops.GetPlayers(ctx, view.Session.ID)
	if err != nil {
		return nil, err
	}
	ledger, err := h.ops.GetPlayerAnswers(ctx, view.Session.ID)
	if err != nil {
		return nil, err
	}

	upto := view.Session.CurrentQuestionIndex
	if upto >= len(h.quiz.Questions) {
		upto = len(h.quiz.Questions) - 1
	}
	questionIDs := make([]string, 0, upto+1)
	for i := 0; i <= upto; i++ {
		questionIDs = append(questionIDs, h.quiz.Questions[i].ID)
	}

	ranked := make([]ScoreboardEntry, 0, len(players))
	playerIDs := make([]string, 0, len(players))
	for _, p := range players {
		if p.IsHost {
			continue
		}
		playerIDs = append(playerIDs, p.ID)
		ranked = append(ranked, ScoreboardEntry{Player: p})
	}
	streaks := domain.ComputeStreaks(playerIDs, questionIDs, ledger)
	for i := range ranked {
		ranked[i].Streak = streaks[ranked[i].Player.ID]
	}
	return ranked, nil
}
