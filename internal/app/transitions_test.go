package app_test

import (
	"context"
	"testing"

	"quibly/internal/domain"
)

func TestFullPhaseProgression(t *testing.T) {
	service, _ := newTestService(t)
	quiz, session, hostID := createGame(t, service)
	ctx := context.Background()
	total := len(quiz.Questions)

	started, err := service.StartGame(ctx, session.ID, hostID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.StatusPlaying || started.Phase != domain.PhaseQuestion || started.CurrentQuestionIndex != 0 {
		t.Fatalf("unexpected state after start: %+v", started)
	}
	if started.QuestionStartedAt == nil || started.StartedAt == nil {
		t.Fatalf("start must anchor the question timer")
	}

	for idx := 0; idx < total; idx++ {
		if _, err := service.AdvanceToResults(ctx, session.ID, hostID); err != nil {
			t.Fatalf("question %d to results: %v", idx, err)
		}
		current, err := service.AdvanceToScoreboard(ctx, session.ID, hostID)
		if err != nil {
			t.Fatalf("question %d to scoreboard: %v", idx, err)
		}
		if current.CurrentQuestionIndex != idx {
			t.Fatalf("index moved unexpectedly: %+v", current)
		}

		if idx < total-1 {
			next, err := service.NextQuestion(ctx, session.ID, hostID, total)
			if err != nil {
				t.Fatalf("next after question %d: %v", idx, err)
			}
			if next.CurrentQuestionIndex != idx+1 || next.Phase != domain.PhaseQuestion {
				t.Fatalf("unexpected state after next: %+v", next)
			}
			if next.QuestionStartedAt == nil || next.QuestionStartedAt.Before(*started.QuestionStartedAt) {
				t.Fatalf("next question must restamp the timer anchor")
			}
		}
	}

	// Past the last question only finishing is legal.
	if _, err := service.NextQuestion(ctx, session.ID, hostID, total); err != domain.ErrInvalidTransition {
		t.Fatalf("expected bound on question index, got %v", err)
	}
	finished, err := service.FinishGame(ctx, session.ID, hostID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != domain.StatusFinished || finished.EndedAt == nil {
		t.Fatalf("unexpected terminal state: %+v", finished)
	}
}

func TestTransitionsRejectWrongPredecessor(t *testing.T) {
	service, _ := newTestService(t)
	_, session, hostID := createGame(t, service)
	ctx := context.Background()

	// Still waiting: nothing but start is legal.
	if _, err := service.AdvanceToResults(ctx, session.ID, hostID); err != domain.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition from waiting, got %v", err)
	}
	if _, err := service.FinishGame(ctx, session.ID, hostID); err != domain.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition finishing from waiting, got %v", err)
	}

	if _, err := service.StartGame(ctx, session.ID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Double start is rejected.
	if _, err := service.StartGame(ctx, session.ID, hostID); err != domain.ErrInvalidTransition {
		t.Fatalf("expected double start rejection, got %v", err)
	}
	// Skipping results is rejected.
	if _, err := service.AdvanceToScoreboard(ctx, session.ID, hostID); err != domain.ErrInvalidTransition {
		t.Fatalf("expected scoreboard to require results, got %v", err)
	}
	// Racing triggers: the second results advance loses cleanly.
	if _, err := service.AdvanceToResults(ctx, session.ID, hostID); err != nil {
		t.Fatalf("results: %v", err)
	}
	if _, err := service.AdvanceToResults(ctx, session.ID, hostID); err != domain.ErrInvalidTransition {
		t.Fatalf("expected second results advance to lose, got %v", err)
	}
}

func TestTransitionsAreHostOnly(t *testing.T) {
	service, _ := newTestService(t)
	_, session, hostID := createGame(t, service)
	ctx := context.Background()

	if _, err := service.StartGame(ctx, session.ID, "someone-else"); err != domain.ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if _, err := service.StartGame(ctx, session.ID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.AdvanceToResults(ctx, session.ID, "someone-else"); err != domain.ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
}

func TestStartedSessionNoLongerJoinableByCode(t *testing.T) {
	service, _ := newTestService(t)
	quiz, session, hostID := createGame(t, service)
	ctx := context.Background()

	if _, err := service.GetWaitingSessionByCode(ctx, quiz.Code); err != nil {
		t.Fatalf("lobby lookup: %v", err)
	}
	if _, err := service.StartGame(ctx, session.ID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.GetWaitingSessionByCode(ctx, quiz.Code); err != domain.ErrSessionNotFound {
		t.Fatalf("expected started session to be unjoinable, got %v", err)
	}
}
