package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quibly/internal/app"
	"quibly/internal/domain"
	"quibly/internal/infra/postgres"
	pgmigrations "quibly/internal/infra/postgres/migrations"
	redisinfra "quibly/internal/infra/redis"
)

func TestGameSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	applyMigrations(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := postgres.NewStore(pool)
	feed := redisinfra.NewFeed(redisClient, zerolog.Nop())
	quizzes := redisinfra.NewQuizCache(redisClient, app.StoreQuizSource{Store: store}, 5*time.Minute)
	service := app.NewGameService(store, feed, quizzes, zerolog.Nop())

	quiz, err := service.CreateQuiz(ctx, "host-user", "Integration quiz", "", []app.QuestionDraft{
		{
			Text: "Pick the right one", TimeLimit: 30, Points: 1000,
			Answers: []app.AnswerDraft{
				{Text: "Wrong", Color: domain.ColorRed},
				{Text: "Right", Color: domain.ColorBlue, Correct: true},
			},
		},
		{
			Text: "Once more", TimeLimit: 20, Points: 500,
			Answers: []app.AnswerDraft{
				{Text: "Yes", Color: domain.ColorRed, Correct: true},
				{Text: "No", Color: domain.ColorBlue},
			},
		},
	})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}

	// The cached public read path never exposes correctness.
	pub, err := service.GetQuizByCode(ctx, quiz.Code)
	if err != nil {
		t.Fatalf("public quiz: %v", err)
	}
	if pub.ID != quiz.ID || len(pub.Questions) != 2 {
		t.Fatalf("unexpected public quiz: %+v", pub)
	}

	session, err := service.CreateGameSession(ctx, quiz.ID, quiz.Code, "host-user")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	events, cancel, err := service.Subscribe(ctx, session.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	alice, err := service.JoinGame(ctx, session.ID, "u1", "Alice", false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	// Idempotent rejoin resolves to the same row.
	again, err := service.JoinGame(ctx, session.ID, "u1", "Alice", false)
	if err != nil || again.ID != alice.ID {
		t.Fatalf("rejoin mismatch: %+v / %v", again, err)
	}
	bob, err := service.JoinGame(ctx, session.ID, "u2", "Bob", false)
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}

	waitForEvent(t, events, func(e domain.ChangeEvent) bool {
		return e.Table == domain.TablePlayers && e.Player != nil && e.Player.ID == alice.ID
	}, "alice join push")

	if _, err := service.StartGame(ctx, session.ID, "u1"); err != domain.ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	started, err := service.StartGame(ctx, session.ID, "host-user")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.StatusPlaying || started.QuestionStartedAt == nil {
		t.Fatalf("unexpected started session: %+v", started)
	}

	waitForEvent(t, events, func(e domain.ChangeEvent) bool {
		return e.Table == domain.TableSessions && e.Session != nil &&
			e.Session.Status != nil && *e.Session.Status == domain.StatusPlaying
	}, "start push")

	question := quiz.Questions[0]
	correctID := question.CorrectAnswerID()

	result, err := service.SubmitAnswer(ctx, alice.ID, question.ID, correctID, 25)
	if err != nil {
		t.Fatalf("submit alice: %v", err)
	}
	if !result.Correct || result.PointsEarned == 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	// Replay loses against the unique constraint.
	if _, err := service.SubmitAnswer(ctx, alice.ID, question.ID, correctID, 25); err != domain.ErrAlreadyAnswered {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, bob.ID, question.ID, "", 0); err != nil {
		t.Fatalf("submit bob timeout: %v", err)
	}

	stats, err := service.GetAnswerStats(ctx, session.ID, question.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalPlayers != 2 || stats.TotalAnswers != 2 || !stats.AllAnswered() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.CorrectAnswerID != correctID {
		t.Fatalf("stats lost correct answer id: %+v", stats)
	}

	if _, err := service.AdvanceToResults(ctx, session.ID, "host-user"); err != nil {
		t.Fatalf("results: %v", err)
	}
	if _, err := service.AdvanceToScoreboard(ctx, session.ID, "host-user"); err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if _, err := service.NextQuestion(ctx, session.ID, "host-user", len(quiz.Questions)); err != nil {
		t.Fatalf("next: %v", err)
	}
	finished, err := service.FinishGame(ctx, session.ID, "host-user")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != domain.StatusFinished || finished.EndedAt == nil {
		t.Fatalf("unexpected terminal session: %+v", finished)
	}

	players, err := service.GetPlayers(ctx, session.ID)
	if err != nil {
		t.Fatalf("players: %v", err)
	}
	if len(players) != 2 || players[0].ID != alice.ID || players[0].Score != result.NewScore {
		t.Fatalf("unexpected leaderboard: %+v", players)
	}

	ledger, err := service.GetPlayerAnswers(ctx, session.ID)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(ledger) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(ledger))
	}

	if err := service.DeleteGameSession(ctx, session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := service.GetSessionByID(ctx, session.ID); err != domain.ErrSessionNotFound {
		t.Fatalf("expected cascade delete, got %v", err)
	}
}

func waitForEvent(t *testing.T, events <-chan domain.ChangeEvent, match func(domain.ChangeEvent) bool, what string) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case event := <-events:
			if match(event) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func applyMigrations(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quibly", "POSTGRES_PASSWORD": "quiblypass", "POSTGRES_DB": "quibly"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quibly:quiblypass@%s:%s/quibly?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
