package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"quibly/internal/app"
	"quibly/internal/domain"
)

// Service is the full operation set a client process coordinates
// through. *app.GameService satisfies it.
type Service interface {
	SessionSource
	HostOps
	PlayerOps
	CreateQuiz(ctx context.Context, hostID, title, description string, drafts []app.QuestionDraft) (domain.Quiz, error)
	GetQuizByCode(ctx context.Context, code string) (domain.PublicQuiz, error)
	CreateGameSession(ctx context.Context, quizID, code, hostID string) (domain.GameSession, error)
	GetWaitingSessionByCode(ctx context.Context, code string) (domain.GameSession, error)
	JoinGame(ctx context.Context, sessionID, userID, name string, isHost bool) (domain.Player, error)
	GetPlayerByID(ctx context.Context, id string) (domain.Player, error)
	GetPlayerBySession(ctx context.Context, sessionID, userID string) (domain.Player, error)
	StartGame(ctx context.Context, sessionID, hostID string) (domain.GameSession, error)
}

// ActiveSession is one live attachment to a game: reconciler plus the
// role-specific controller.
type ActiveSession struct {
	Quiz       domain.PublicQuiz
	Role       Role
	Reconciler *Reconciler
	Host       *HostController // set when Role == RoleHost
	Player     *PlayerClient   // set when Role == RolePlayer
}

// GameClient owns the locally persisted state and builds ActiveSessions
// for the create, join, and restore flows.
type GameClient struct {
	svc          Service
	states       *StateStore
	log          zerolog.Logger
	pollInterval time.Duration
	settleDelay  time.Duration
}

func NewGameClient(svc Service, states *StateStore, pollInterval, settleDelay time.Duration, log zerolog.Logger) *GameClient {
	return &GameClient{
		svc:          svc,
		states:       states,
		log:          log,
		pollInterval: pollInterval,
		settleDelay:  settleDelay,
	}
}

func (c *GameClient) attachHost(session domain.GameSession, quiz domain.PublicQuiz, hostID string) *ActiveSession {
	rec := NewReconciler(c.svc, session, c.pollInterval, c.log)
	return &ActiveSession{
		Quiz:       quiz,
		Role:       RoleHost,
		Reconciler: rec,
		Host:       NewHostController(c.svc, rec, quiz, hostID, c.settleDelay, c.log),
	}
}

func (c *GameClient) attachPlayer(session domain.GameSession, quiz domain.PublicQuiz, player domain.Player) *ActiveSession {
	rec := NewReconciler(c.svc, session, c.pollInterval, c.log)
	return &ActiveSession{
		Quiz:       quiz,
		Role:       RolePlayer,
		Reconciler: rec,
		Player:     NewPlayerClient(c.svc, rec, quiz, player, c.log),
	}
}

// CreateAndHost authors a quiz, opens a waiting session for it, and
// persists the host pointer for restoration.
func (c *GameClient) CreateAndHost(ctx context.Context, title, description string, drafts []app.QuestionDraft) (*ActiveSession, error) {
	hostID, err := c.states.EnsureAuth()
	if err != nil {
		return nil, err
	}
	quiz, err := c.svc.CreateQuiz(ctx, hostID, title, description, drafts)
	if err != nil {
		return nil, err
	}
	session, err := c.svc.CreateGameSession(ctx, quiz.ID, quiz.Code, hostID)
	if err != nil {
		return nil, err
	}
	if err := c.states.SaveSession(StoredSession{
		SessionID: session.ID,
		QuizCode:  session.Code,
		Role:      RoleHost,
	}); err != nil {
		c.log.Warn().Err(err).Msg("could not persist session pointer")
	}
	return c.attachHost(session, quiz.Public(), hostID), nil
}

// Join enters a waiting session by code. Joining is idempotent per
// principal: rejoining returns the previously created player.
func (c *GameClient) Join(ctx context.Context, code, name string) (*ActiveSession, error) {
	userID, err := c.states.EnsureAuth()
	if err != nil {
		return nil, err
	}
	quiz, err := c.svc.GetQuizByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	session, err := c.svc.GetWaitingSessionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	player, err := c.svc.JoinGame(ctx, session.ID, userID, name, false)
	if err != nil {
		return nil, err
	}
	if err := c.states.SaveSession(StoredSession{
		SessionID: session.ID,
		QuizCode:  session.Code,
		Role:      RolePlayer,
		PlayerID:  player.ID,
	}); err != nil {
		c.log.Warn().Err(err).Msg("could not persist session pointer")
	}
	return c.attachPlayer(session, quiz, player), nil
}

// Restore re-enters the session named by the persisted pointer. It fails
// closed: any unresolved piece clears the pointer and returns
// ErrSessionNotFound so the caller lands back at home.
func (c *GameClient) Restore(ctx context.Context) (*ActiveSession, error) {
	stored, err := c.states.LoadSession()
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrSessionNotFound
	}

	userID, err := c.states.EnsureAuth()
	if err != nil {
		return nil, err
	}

	session, err := c.svc.GetSessionByID(ctx, stored.SessionID)
	if err != nil {
		c.states.ClearSession()
		return nil, domain.ErrSessionNotFound
	}
	quiz, err := c.svc.GetQuizByCode(ctx, stored.QuizCode)
	if err != nil {
		c.states.ClearSession()
		return nil, domain.ErrSessionNotFound
	}

	if stored.Role == RoleHost || session.HostID == userID {
		return c.attachHost(session, quiz, session.HostID), nil
	}

	var player domain.Player
	if stored.PlayerID != "" {
		player, err = c.svc.GetPlayerByID(ctx, stored.PlayerID)
	}
	if stored.PlayerID == "" || err != nil {
		player, err = c.svc.GetPlayerBySession(ctx, stored.SessionID, userID)
	}
	if err != nil {
		c.states.ClearSession()
		return nil, domain.ErrSessionNotFound
	}
	return c.attachPlayer(session, quiz, player), nil
}

// Start begins the game; host only.
func (c *GameClient) Start(ctx context.Context, active *ActiveSession) (domain.GameSession, error) {
	if active.Role != RoleHost {
		return domain.GameSession{}, domain.ErrNotHost
	}
	hostID, err := c.states.EnsureAuth()
	if err != nil {
		return domain.GameSession{}, err
	}
	session, err := c.svc.StartGame(ctx, active.Reconciler.View().Session.ID, hostID)
	if err != nil {
		return domain.GameSession{}, err
	}
	active.Reconciler.ApplySessionSnapshot(session)
	return session, nil
}

// Quit leaves the game: the host deletes the session, a player removes
// their row. The local pointer is cleared first so a failed remote
// cleanup still lands the user at home.
func (c *GameClient) Quit(ctx context.Context, active *ActiveSession) {
	c.states.ClearSession()
	switch active.Role {
	case RoleHost:
		if err := active.Host.Quit(ctx); err != nil {
			c.log.Warn().Err(err).Msg("session deletion failed")
		}
	case RolePlayer:
		active.Player.Leave(ctx)
	}
}
