package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quibly/internal/app"
	"quibly/internal/config"
	"quibly/internal/infra/memory"
	"quibly/internal/infra/postgres"
	redisinfra "quibly/internal/infra/redis"
	transport "quibly/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the game server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the game session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// buildService assembles the game service from config: Postgres store and
// redis feed when configured, in-memory fallbacks otherwise. The returned
// cleanup closes whatever was opened.
func buildService(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app.GameService, func(), error) {
	cleanups := []func(){}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanups = append(cleanups, func() { redisClient.Close() })
	}

	mem := memory.NewStore()

	var store app.Store = mem
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			cleanup()
			return nil, nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, pool.Close)
		store = postgres.NewStore(pool)
	}

	var feed app.Feed = mem
	if redisClient != nil {
		feed = redisinfra.NewFeed(redisClient, log)
	}

	var quizzes app.PublicQuizSource
	if redisClient != nil {
		ttl := config.Duration(cfg.Quiz.CacheTTL, 10*time.Minute)
		quizzes = redisinfra.NewQuizCache(redisClient, app.StoreQuizSource{Store: store}, ttl)
	}

	return app.NewGameService(store, feed, quizzes, log), cleanup, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	log := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	service, cleanup, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	wsHandler := transport.NewWSHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting game server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
