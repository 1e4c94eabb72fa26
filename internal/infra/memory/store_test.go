package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"quibly/internal/domain"
)

func seedGame(t *testing.T, store *Store) (domain.Quiz, domain.GameSession) {
	t.Helper()
	ctx := context.Background()
	quiz := domain.Quiz{
		ID:   "quiz-1",
		Code: "ABC234",
		Questions: []domain.Question{
			{
				ID: "q1", QuizID: "quiz-1", TimeLimit: 30, Points: 1000,
				Answers: []domain.Answer{
					{ID: "a1", QuestionID: "q1", Color: domain.ColorRed},
					{ID: "a2", QuestionID: "q1", Color: domain.ColorBlue, Correct: true},
				},
			},
		},
	}
	if err := store.InsertQuiz(ctx, quiz); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
	session := domain.GameSession{
		ID: "s1", QuizID: quiz.ID, Code: quiz.Code,
		Status: domain.StatusWaiting, Phase: domain.PhaseQuestion,
		HostID: "host-user", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := store.InsertSession(ctx, session); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return quiz, session
}

func TestInsertQuizRejectsDuplicateCode(t *testing.T) {
	store := NewStore()
	quiz, _ := seedGame(t, store)

	dup := domain.Quiz{ID: "quiz-2", Code: quiz.Code}
	if err := store.InsertQuiz(context.Background(), dup); err != domain.ErrCodeTaken {
		t.Fatalf("expected ErrCodeTaken, got %v", err)
	}
}

func TestInsertPlayerDeduplicatesByPrincipal(t *testing.T) {
	store := NewStore()
	_, session := seedGame(t, store)
	ctx := context.Background()

	first, err := store.InsertPlayer(ctx, domain.Player{SessionID: session.ID, UserID: "u1", Name: "Alice"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := store.InsertPlayer(ctx, domain.Player{SessionID: session.ID, UserID: "u1", Name: "Alice again"})
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the existing row back, got %s and %s", first.ID, second.ID)
	}
}

func TestSubmitAnswerDuplicateKeepsFirstScore(t *testing.T) {
	store := NewStore()
	quiz, session := seedGame(t, store)
	ctx := context.Background()

	player, err := store.InsertPlayer(ctx, domain.Player{SessionID: session.ID, UserID: "u1", Name: "Alice"})
	if err != nil {
		t.Fatalf("insert player: %v", err)
	}
	question := quiz.Questions[0]

	result, err := store.SubmitAnswer(ctx, player.ID, question.ID, "a2", 30)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Correct || result.PointsEarned != 1000 {
		t.Fatalf("expected full credit, got %+v", result)
	}

	if _, err := store.SubmitAnswer(ctx, player.ID, question.ID, "a1", 29); err != domain.ErrAlreadyAnswered {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}
	reloaded, _ := store.PlayerByID(ctx, player.ID)
	if reloaded.Score != 1000 {
		t.Fatalf("replay must not change the score, got %d", reloaded.Score)
	}
}

func TestSubmitAnswerValidatesAnswerBelongsToQuestion(t *testing.T) {
	store := NewStore()
	quiz, session := seedGame(t, store)
	ctx := context.Background()

	player, _ := store.InsertPlayer(ctx, domain.Player{SessionID: session.ID, UserID: "u1", Name: "Alice"})

	if _, err := store.SubmitAnswer(ctx, player.ID, quiz.Questions[0].ID, "nope", 10); err != domain.ErrAnswerNotFound {
		t.Fatalf("expected ErrAnswerNotFound, got %v", err)
	}
	if _, err := store.SubmitAnswer(ctx, player.ID, "missing-question", "a1", 10); err != domain.ErrQuestionNotFound {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestAnswerStatsTalliesPerAnswer(t *testing.T) {
	store := NewStore()
	quiz, session := seedGame(t, store)
	ctx := context.Background()

	alice, _ := store.InsertPlayer(ctx, domain.Player{SessionID: session.ID, UserID: "u1", Name: "Alice"})
	bob, _ := store.InsertPlayer(ctx, domain.Player{SessionID: session.ID, UserID: "u2", Name: "Bob"})
	if _, err := store.InsertPlayer(ctx, domain.Player{SessionID: session.ID, UserID: "host-user", Name: "Host", IsHost: true}); err != nil {
		t.Fatalf("insert host: %v", err)
	}

	question := quiz.Questions[0]
	if _, err := store.SubmitAnswer(ctx, alice.ID, question.ID, "a2", 20); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := store.SubmitAnswer(ctx, bob.ID, question.ID, "", 0); err != nil {
		t.Fatalf("timeout submit: %v", err)
	}

	stats, err := store.AnswerStats(ctx, session.ID, question.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalPlayers != 2 || stats.TotalAnswers != 2 || !stats.AllAnswered() {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.CorrectAnswerID != "a2" {
		t.Fatalf("expected correct answer id, got %q", stats.CorrectAnswerID)
	}
	for _, count := range stats.Answers {
		switch count.AnswerID {
		case "a2":
			if count.Count != 1 {
				t.Fatalf("expected one a2 vote, got %d", count.Count)
			}
		case "a1":
			if count.Count != 0 {
				t.Fatalf("expected no a1 votes, got %d", count.Count)
			}
		}
	}
}

func TestPlayersBySessionOrdersByScoreThenJoin(t *testing.T) {
	store := NewStore()
	quiz, session := seedGame(t, store)
	ctx := context.Background()
	base := time.Now()

	alice, _ := store.InsertPlayer(ctx, domain.Player{SessionID: session.ID, UserID: "u1", Name: "Alice", JoinedAt: base})
	if _, err := store.InsertPlayer(ctx, domain.Player{SessionID: session.ID, UserID: "u2", Name: "Bob", JoinedAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := store.SubmitAnswer(ctx, alice.ID, quiz.Questions[0].ID, "a2", 30); err != nil {
		t.Fatalf("submit: %v", err)
	}

	players, err := store.PlayersBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("players: %v", err)
	}
	if len(players) != 2 || players[0].Name != "Alice" {
		t.Fatalf("expected Alice leading after scoring, got %+v", players)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	store := NewStore()
	quiz, session := seedGame(t, store)
	ctx := context.Background()

	player, _ := store.InsertPlayer(ctx, domain.Player{SessionID: session.ID, UserID: "u1", Name: "Alice"})
	if _, err := store.SubmitAnswer(ctx, player.ID, quiz.Questions[0].ID, "a2", 10); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := store.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.SessionByID(ctx, session.ID); err != domain.ErrSessionNotFound {
		t.Fatalf("expected session gone, got %v", err)
	}
	if _, err := store.PlayerByID(ctx, player.ID); err != domain.ErrPlayerNotFound {
		t.Fatalf("expected player gone, got %v", err)
	}
	ledger, _ := store.PlayerAnswers(ctx, session.ID)
	if len(ledger) != 0 {
		t.Fatalf("expected ledger emptied, got %d rows", len(ledger))
	}
}

func TestFeedDropsOldestWhenSubscriberLags(t *testing.T) {
	store := NewStore()
	_, session := seedGame(t, store)
	ctx := context.Background()

	events, cancel, err := store.Subscribe(ctx, session.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	total := 40 // well past the channel buffer
	for i := 0; i < total; i++ {
		idx := i
		update := domain.SessionUpdate{CurrentQuestionIndex: &idx}
		if err := store.Publish(ctx, domain.SessionChanged(session.ID, update, time.Now())); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	received := 0
	var last domain.ChangeEvent
	for {
		select {
		case event := <-events:
			received++
			last = event
			continue
		default:
		}
		break
	}
	if received == 0 || received >= total {
		t.Fatalf("expected a truncated buffer, got %d of %d", received, total)
	}
	// The most recent event survives the drop-oldest policy.
	if last.Session == nil || *last.Session.CurrentQuestionIndex != total-1 {
		t.Fatalf("expected newest event last, got %+v", last.Session)
	}
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	store := NewStore()
	_, session := seedGame(t, store)

	_, cancel, err := store.Subscribe(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel() // second call must not panic or double close
}

func TestPublishConcurrentlyToSaturatedSubscriber(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	// Nobody drains this channel, so every send races through the
	// drop-oldest path.
	_, cancel, err := store.Subscribe(ctx, "session-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				idx := i
				update := domain.SessionUpdate{CurrentQuestionIndex: &idx}
				if err := store.Publish(ctx, domain.SessionChanged("session-1", update, time.Now())); err != nil {
					t.Errorf("publish: %v", err)
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("publishers blocked against a full subscriber buffer")
	}
}
