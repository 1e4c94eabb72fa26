package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"quibly/internal/app"
	"quibly/internal/client"
	"quibly/internal/config"
	"quibly/internal/domain"
)

// quizFile is the on-disk format for authoring a quiz.
type quizFile struct {
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Questions   []questionFile `yaml:"questions"`
}

type questionFile struct {
	Text      string       `yaml:"text"`
	TimeLimit int          `yaml:"timeLimit"`
	Points    int          `yaml:"points"`
	Answers   []answerFile `yaml:"answers"`
}

type answerFile struct {
	Text    string `yaml:"text"`
	Color   string `yaml:"color"`
	Correct bool   `yaml:"correct"`
}

func (f quizFile) drafts() []app.QuestionDraft {
	drafts := make([]app.QuestionDraft, 0, len(f.Questions))
	for _, q := range f.Questions {
		draft := app.QuestionDraft{
			Text:      q.Text,
			TimeLimit: q.TimeLimit,
			Points:    q.Points,
		}
		for _, a := range q.Answers {
			draft.Answers = append(draft.Answers, app.AnswerDraft{
				Text:    a.Text,
				Color:   domain.AnswerColor(a.Color),
				Correct: a.Correct,
			})
		}
		drafts = append(drafts, draft)
	}
	return drafts
}

// NewHostCmd hosts a quiz end to end: create the session, print the join
// code, start once the lobby fills, and let auto-advance drive the game.
func NewHostCmd(configPath *string) *cobra.Command {
	var quizPath string
	var minPlayers int
	var lobbyWait time.Duration

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a quiz session from a quiz file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), *configPath, quizPath, minPlayers, lobbyWait)
		},
	}
	cmd.Flags().StringVar(&quizPath, "quiz", "", "path to a YAML quiz file")
	cmd.Flags().IntVar(&minPlayers, "min-players", 1, "players to wait for before starting")
	cmd.Flags().DurationVar(&lobbyWait, "lobby-wait", 5*time.Minute, "maximum time to hold the lobby open")
	return cmd
}

func runHost(ctx context.Context, configPath, quizPath string, minPlayers int, lobbyWait time.Duration) error {
	log := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	service, cleanup, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	stateDir := cfg.Client.StateDir
	if stateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return err
		}
		stateDir = filepath.Join(base, "quibly")
	}
	states := client.NewStateStore(stateDir)

	var file quizFile
	if quizPath != "" {
		data, err := os.ReadFile(quizPath)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return err
		}
	} else {
		file = demoQuiz()
	}

	gc := client.NewGameClient(service, states,
		config.Duration(cfg.Game.PollInterval, 3*time.Second),
		config.Duration(cfg.Game.SettleDelay, 2500*time.Millisecond),
		log)

	active, err := gc.CreateAndHost(ctx, file.Title, file.Description, file.drafts())
	if err != nil {
		return err
	}
	defer gc.Quit(context.Background(), active)

	fmt.Printf("join code: %s\n", active.Quiz.Code)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go active.Reconciler.Run(runCtx)

	if err := waitForLobby(runCtx, active, minPlayers, lobbyWait); err != nil {
		return err
	}
	if _, err := gc.Start(ctx, active); err != nil {
		return err
	}
	log.Info().Msg("game started")

	statsInterval := config.Duration(cfg.Game.StatsInterval, time.Second)
	if err := runUntilFinished(runCtx, active, statsInterval); err != nil {
		return err
	}

	entries, err := active.Host.Scoreboard(ctx)
	if err != nil {
		return err
	}
	fmt.Println("final scoreboard:")
	for i, entry := range entries {
		fmt.Printf("%2d. %-20s %5d (streak %d)\n", i+1, entry.Player.Name, entry.Player.Score, entry.Streak)
	}
	return nil
}

func waitForLobby(ctx context.Context, active *client.ActiveSession, minPlayers int, wait time.Duration) error {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("lobby wait elapsed with no players")
		case <-tick.C:
			view := active.Reconciler.View()
			if view.Gone {
				return domain.ErrSessionNotFound
			}
			if eligiblePlayers(view.Players) >= minPlayers {
				return nil
			}
		}
	}
}

func runUntilFinished(ctx context.Context, active *client.ActiveSession, statsInterval time.Duration) error {
	hostCtx, stopHost := context.WithCancel(ctx)
	defer stopHost()
	done := make(chan error, 1)
	go func() { done <- active.Host.Run(hostCtx, statsInterval) }()

	tick := time.NewTicker(statsInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		case <-tick.C:
			view := active.Reconciler.View()
			if view.Gone {
				return domain.ErrSessionNotFound
			}
			if view.Session.Status == domain.StatusFinished {
				return nil
			}
		}
	}
}

func eligiblePlayers(players []domain.Player) int {
	n := 0
	for _, p := range players {
		if !p.IsHost {
			n++
		}
	}
	return n
}

func demoQuiz() quizFile {
	return quizFile{
		Title:       "Quick general knowledge",
		Description: "A short warm-up round",
		Questions: []questionFile{
			{
				Text: "Which planet is closest to the sun?", TimeLimit: 20, Points: 1000,
				Answers: []answerFile{
					{Text: "Venus", Color: "red"},
					{Text: "Mercury", Color: "blue", Correct: true},
					{Text: "Mars", Color: "yellow"},
					{Text: "Earth", Color: "green"},
				},
			},
			{
				Text: "How many minutes are in a day?", TimeLimit: 30, Points: 1000,
				Answers: []answerFile{
					{Text: "1440", Color: "red", Correct: true},
					{Text: "3600", Color: "blue"},
					{Text: "720", Color: "yellow"},
					{Text: "2880", Color: "green"},
				},
			},
		},
	}
}
