package app

import (
	"context"

	"quibly/internal/domain"
)

// Session transitions are host-initiated partial writes. Each helper
// checks the exact predecessor state before writing; the check is a local
// read-then-write, so concurrent host tabs remain last-write-wins at the
// store (see DESIGN.md).

func (s *GameService) hostSession(ctx context.Context, sessionID, hostID string) (domain.GameSession, error) {
	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if session.HostID != hostID {
		return domain.GameSession{}, domain.ErrNotHost
	}
	return session, nil
}

// StartGame moves waiting -> playing at question 0 and anchors the
// question timer to the store clock.
func (s *GameService) StartGame(ctx context.Context, sessionID, hostID string) (domain.GameSession, error) {
	session, err := s.hostSession(ctx, sessionID, hostID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if session.Status != domain.StatusWaiting {
		return domain.GameSession{}, domain.ErrInvalidTransition
	}
	now := s.now()
	status := domain.StatusPlaying
	phase := domain.PhaseQuestion
	index := 0
	return s.UpdateSessionState(ctx, sessionID, domain.SessionUpdate{
		Status:               &status,
		Phase:                &phase,
		CurrentQuestionIndex: &index,
		QuestionStartedAt:    &now,
		StartedAt:            &now,
	})
}

// AdvanceToResults moves question -> results once the timer expires or
// everyone has answered.
func (s *GameService) AdvanceToResults(ctx context.Context, sessionID, hostID string) (domain.GameSession, error) {
	session, err := s.hostSession(ctx, sessionID, hostID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if session.Status != domain.StatusPlaying || session.Phase != domain.PhaseQuestion {
		return domain.GameSession{}, domain.ErrInvalidTransition
	}
	phase := domain.PhaseResults
	return s.UpdateSessionState(ctx, sessionID, domain.SessionUpdate{Phase: &phase})
}

// AdvanceToScoreboard moves results -> scoreboard.
func (s *GameService) AdvanceToScoreboard(ctx context.Context, sessionID, hostID string) (domain.GameSession, error) {
	session, err := s.hostSession(ctx, sessionID, hostID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if session.Status != domain.StatusPlaying || session.Phase != domain.PhaseResults {
		return domain.GameSession{}, domain.ErrInvalidTransition
	}
	phase := domain.PhaseScoreboard
	return s.UpdateSessionState(ctx, sessionID, domain.SessionUpdate{Phase: &phase})
}

// NextQuestion moves scoreboard -> question on the next index and
// restarts the timer anchor. totalQuestions bounds the monotonic index.
func (s *GameService) NextQuestion(ctx context.Context, sessionID, hostID string, totalQuestions int) (domain.GameSession, error) {
	session, err := s.hostSession(ctx, sessionID, hostID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if session.Status != domain.StatusPlaying || session.Phase != domain.PhaseScoreboard {
		return domain.GameSession{}, domain.ErrInvalidTransition
	}
	next := session.CurrentQuestionIndex + 1
	if next >= totalQuestions {
		return domain.GameSession{}, domain.ErrInvalidTransition
	}
	now := s.now()
	phase := domain.PhaseQuestion
	return s.UpdateSessionState(ctx, sessionID, domain.SessionUpdate{
		Phase:                &phase,
		CurrentQuestionIndex: &next,
		QuestionStartedAt:    &now,
	})
}

// FinishGame moves the last question's scoreboard to the finished
// terminal state.
func (s *GameService) FinishGame(ctx context.Context, sessionID, hostID string) (domain.GameSession, error) {
	session, err := s.hostSession(ctx, sessionID, hostID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if session.Status != domain.StatusPlaying {
		return domain.GameSession{}, domain.ErrInvalidTransition
	}
	now := s.now()
	status := domain.StatusFinished
	return s.UpdateSessionState(ctx, sessionID, domain.SessionUpdate{
		Status:  &status,
		EndedAt: &now,
	})
}
