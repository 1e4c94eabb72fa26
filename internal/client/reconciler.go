package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quibly/internal/domain"
)

// Screen is the locally derived UI phase. It is a pure function of the
// remote session state; a client never advances it on its own.
type Screen string

const (
	ScreenHome    Screen = "home"
	ScreenLobby   Screen = "lobby"
	ScreenPlay    Screen = "play"
	ScreenResults Screen = "results"
)

// ScreenFor derives the screen from session status.
func ScreenFor(status domain.SessionStatus) Screen {
	switch status {
	case domain.StatusPlaying:
		return ScreenPlay
	case domain.StatusFinished:
		return ScreenResults
	default:
		return ScreenLobby
	}
}

// View is one coherent snapshot of what this client believes about the
// session.
type View struct {
	Session domain.GameSession
	Players []domain.Player
	Screen  Screen
	Gone    bool // session deleted remotely
}

// SessionSource is the slice of the store contract the reconciler needs.
// *app.GameService satisfies it.
type SessionSource interface {
	GetSessionByID(ctx context.Context, id string) (domain.GameSession, error)
	GetPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
	Subscribe(ctx context.Context, sessionID string) (<-chan domain.ChangeEvent, func(), error)
}

// Reconciler merges two producers, push notifications and periodic
// polling, into one session view. Both feed the same monotonic merge: a
// payload older than the held UpdatedAt is discarded, so a slow poll
// response cannot clobber a newer push and vice versa.
type Reconciler struct {
	source       SessionSource
	log          zerolog.Logger
	pollInterval time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	session domain.GameSession
	players []domain.Player
	gone    bool
}

func NewReconciler(source SessionSource, initial domain.GameSession, pollInterval time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		source:       source,
		log:          log,
		pollInterval: pollInterval,
		now:          time.Now,
		session:      initial,
	}
}

// WithClock is test-only.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// View returns the current reconciled snapshot.
func (r *Reconciler) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	players := make([]domain.Player, len(r.players))
	copy(players, r.players)
	v := View{Session: r.session, Players: players, Screen: ScreenFor(r.session.Status), Gone: r.gone}
	if r.gone {
		v.Screen = ScreenHome
	}
	return v
}

// ApplyEvent merges one push notification. Only fields present in the
// payload are taken; absent fields keep their held value.
func (r *Reconciler) ApplyEvent(event domain.ChangeEvent) {
	if !event.Valid() {
		r.log.Debug().Str("session", event.SessionID).Msg("dropping malformed change event")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if event.SessionID != r.session.ID {
		return
	}

	switch event.Table {
	case domain.TableSessions:
		if event.Type == domain.EventDelete {
			r.gone = true
			return
		}
		delta := event.Session
		if delta.UpdatedAt != nil && delta.UpdatedAt.Before(r.session.UpdatedAt) {
			return // stale
		}
		if delta.Status != nil {
			r.session.Status = *delta.Status
		}
		if delta.Phase != nil {
			r.session.Phase = *delta.Phase
		}
		if delta.CurrentQuestionIndex != nil {
			r.session.CurrentQuestionIndex = *delta.CurrentQuestionIndex
		}
		if delta.QuestionStartedAt != nil {
			t := *delta.QuestionStartedAt
			r.session.QuestionStartedAt = &t
		}
		if delta.StartedAt != nil {
			t := *delta.StartedAt
			r.session.StartedAt = &t
		}
		if delta.EndedAt != nil {
			t := *delta.EndedAt
			r.session.EndedAt = &t
		}
		if delta.UpdatedAt != nil {
			r.session.UpdatedAt = *delta.UpdatedAt
		}
	case domain.TablePlayers:
		r.applyPlayerLocked(event)
	}
}

func (r *Reconciler) applyPlayerLocked(event domain.ChangeEvent) {
	switch event.Type {
	case domain.EventDelete:
		if event.Player == nil {
			return
		}
		for i, p := range r.players {
			if p.ID == event.Player.ID {
				r.players = append(r.players[:i], r.players[i+1:]...)
				return
			}
		}
	default:
		replaced := false
		for i, p := range r.players {
			if p.ID == event.Player.ID {
				r.players[i] = *event.Player
				replaced = true
				break
			}
		}
		if !replaced {
			r.players = append(r.players, *event.Player)
		}
		sort.SliceStable(r.players, func(i, j int) bool {
			return r.players[i].Score > r.players[j].Score
		})
	}
}

// ApplySessionSnapshot merges a full row fetched by polling. A snapshot
// older than the held state is discarded.
func (r *Reconciler) ApplySessionSnapshot(session domain.GameSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID != r.session.ID {
		return
	}
	if session.UpdatedAt.Before(r.session.UpdatedAt) {
		return
	}
	r.session = session
}

// ApplyPlayersSnapshot replaces the roster from a poll result.
func (r *Reconciler) ApplyPlayersSnapshot(players []domain.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players = players
}

// MarkGone records that the remote session no longer exists.
func (r *Reconciler) MarkGone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gone = true
}

// Run keeps the view current until ctx is canceled: one push subscription
// plus a poll ticker as the self-healing fallback. A failed poll cycle is
// logged and skipped; the next cycle heals the view. Teardown cancels the
// subscription and all timers.
func (r *Reconciler) Run(ctx context.Context) error {
	events, cancel, err := r.source.Subscribe(ctx, r.session.ID)
	if err != nil {
		return err
	}
	defer cancel()

	r.poll(ctx)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			r.ApplyEvent(event)
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Reconciler) poll(ctx context.Context) {
	session, err := r.source.GetSessionByID(ctx, r.session.ID)
	if err != nil {
		if err == domain.ErrSessionNotFound {
			r.MarkGone()
			return
		}
		r.log.Warn().Err(err).Str("session", r.session.ID).Msg("session poll failed")
		return
	}
	r.ApplySessionSnapshot(session)

	players, err := r.source.GetPlayers(ctx, session.ID)
	if err != nil {
		r.log.Warn().Err(err).Str("session", session.ID).Msg("roster poll failed")
		return
	}
	r.ApplyPlayersSnapshot(players)
}
