package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quibly/internal/app"
	"quibly/internal/domain"
)

// WSHandler bridges websocket clients onto the game service. Each
// connection is either a host or a player of one session; session and
// roster changes are pushed, mutations arrive as inbound messages.
type WSHandler struct {
	service  *app.GameService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	AnswerID string `json:"answerId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinedPayload struct {
	Session domain.GameSession `json:"session"`
	Player  *domain.Player     `json:"player,omitempty"`
	Quiz    domain.PublicQuiz  `json:"quiz"`
	Players []domain.Player    `json:"players"`
}

// ServeWS upgrades the request and runs the connection's message loop.
// Query parameters: code (join code), userId (anonymous principal),
// name (display name, players only), role (host|player).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := app.NormalizeCode(r.URL.Query().Get("code"))
	userID := r.URL.Query().Get("userId")
	name := r.URL.Query().Get("name")
	role := r.URL.Query().Get("role")
	if code == "" || userID == "" {
		http.Error(w, "missing code or userId", http.StatusBadRequest)
		return
	}
	isHost := role == "host"
	if !isHost && name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()

	// Reconnects carry the session id; fresh joins resolve the lobby by code.
	var session domain.GameSession
	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		session, err = h.service.GetSessionByID(ctx, sessionID)
	} else {
		session, err = h.service.GetWaitingSessionByCode(ctx, code)
	}
	if err != nil {
		h.writeError(conn, err)
		return
	}

	quiz, err := h.service.GetQuizByCode(ctx, code)
	if err != nil {
		h.writeError(conn, err)
		return
	}

	var player *domain.Player
	if !isHost {
		joined, err := h.service.JoinGame(ctx, session.ID, userID, name, false)
		if err != nil {
			h.writeError(conn, err)
			return
		}
		player = &joined
		// Fresh joins deregister when the connection drops, so a vanished
		// player stops counting toward completion. Resumed connections
		// keep their row across disconnects to retain the score.
		if r.URL.Query().Get("sessionId") == "" {
			defer func() {
				if err := h.service.RemovePlayer(context.Background(), joined.ID); err != nil {
					h.log.Debug().Err(err).Str("player", joined.ID).Msg("deregister on disconnect failed")
				}
			}()
		}
	} else if session.HostID != userID {
		h.writeError(conn, domain.ErrNotHost)
		return
	}

	events, cancel, err := h.service.Subscribe(ctx, session.ID)
	if err != nil {
		h.writeError(conn, err)
		return
	}
	defer cancel()

	roster, err := h.service.GetPlayers(ctx, session.ID)
	if err != nil {
		h.writeError(conn, err)
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "change", Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		Session: session,
		Player:  player,
		Quiz:    quiz,
		Players: roster,
	}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(ctx, send, session.ID, userID, player, quiz, inbound)
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, send chan<- outboundMessage[any], sessionID, userID string, player *domain.Player, quiz domain.PublicQuiz, inbound inboundMessage) {
	switch inbound.Type {
	case "answer":
		if player == nil {
			h.sendError(send, domain.ErrPlayerNotFound)
			return
		}
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
			return
		}
		session, err := h.service.GetSessionByID(ctx, sessionID)
		if err != nil {
			h.sendError(send, err)
			return
		}
		if session.Status != domain.StatusPlaying || session.Phase != domain.PhaseQuestion {
			h.sendError(send, domain.ErrInvalidTransition)
			return
		}
		question, ok := questionAt(quiz, session.CurrentQuestionIndex)
		if !ok {
			h.sendError(send, domain.ErrQuestionNotFound)
			return
		}
		remaining := domain.RemainingSeconds(question.TimeLimit, session.QuestionStartedAt, time.Now())
		result, err := h.service.SubmitAnswer(ctx, player.ID, question.ID, payload.AnswerID, remaining)
		if err != nil {
			h.sendError(send, err)
			return
		}
		send <- outboundMessage[any]{Type: "answerResult", Payload: result}

	case "start":
		h.mutate(send, func() (domain.GameSession, error) {
			return h.service.StartGame(ctx, sessionID, userID)
		})
	case "showResults":
		h.mutate(send, func() (domain.GameSession, error) {
			return h.service.AdvanceToResults(ctx, sessionID, userID)
		})
	case "showScoreboard":
		h.mutate(send, func() (domain.GameSession, error) {
			return h.service.AdvanceToScoreboard(ctx, sessionID, userID)
		})
	case "next":
		h.mutate(send, func() (domain.GameSession, error) {
			return h.service.NextQuestion(ctx, sessionID, userID, len(quiz.Questions))
		})
	case "finish":
		h.mutate(send, func() (domain.GameSession, error) {
			return h.service.FinishGame(ctx, sessionID, userID)
		})

	case "stats":
		// Host dashboard only: the aggregate carries the correct answer
		// id, which players must not see before submitting.
		if player != nil {
			h.sendError(send, domain.ErrNotHost)
			return
		}
		session, err := h.service.GetSessionByID(ctx, sessionID)
		if err != nil {
			h.sendError(send, err)
			return
		}
		question, ok := questionAt(quiz, session.CurrentQuestionIndex)
		if !ok {
			h.sendError(send, domain.ErrQuestionNotFound)
			return
		}
		stats, err := h.service.GetAnswerStats(ctx, sessionID, question.ID)
		if err != nil {
			h.sendError(send, err)
			return
		}
		send <- outboundMessage[any]{Type: "stats", Payload: stats}

	case "quit":
		if player != nil {
			if err := h.service.RemovePlayer(ctx, player.ID); err != nil {
				h.sendError(send, err)
			}
			return
		}
		if err := h.service.DeleteGameSession(ctx, sessionID); err != nil {
			h.sendError(send, err)
		}

	default:
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
	}
}

func (h *WSHandler) mutate(send chan<- outboundMessage[any], fn func() (domain.GameSession, error)) {
	session, err := fn()
	if err != nil {
		h.sendError(send, err)
		return
	}
	send <- outboundMessage[any]{Type: "session", Payload: session}
}

func (h *WSHandler) sendError(send chan<- outboundMessage[any], err error) {
	send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

func (h *WSHandler) writeError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
}

func questionAt(quiz domain.PublicQuiz, index int) (domain.PublicQuestion, bool) {
	if index < 0 || index >= len(quiz.Questions) {
		return domain.PublicQuestion{}, false
	}
	questions := make([]domain.PublicQuestion, len(quiz.Questions))
	copy(questions, quiz.Questions)
	sort.Slice(questions, func(i, j int) bool { return questions[i].SortOrder < questions[j].SortOrder })
	return questions[index], true
}
