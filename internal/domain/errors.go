package domain

import "errors"

var (
	// ErrQuizNotFound indicates no quiz exists for the given id or code.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrSessionNotFound indicates the game session is gone or never existed.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrSessionNotWaiting is returned when joining a session that already started.
	ErrSessionNotWaiting = errors.New("game session is not accepting players")
	// ErrPlayerNotFound indicates the player row could not be resolved.
	ErrPlayerNotFound = errors.New("player not found in session")
	// ErrQuestionNotFound indicates a submitted question id is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAnswerNotFound indicates a submitted answer id is invalid.
	ErrAnswerNotFound = errors.New("answer not found")
	// ErrAlreadyAnswered indicates a second submission for the same
	// (player, question) pair. The first submission stands.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrCodeTaken indicates a generated quiz code collided with an existing one.
	ErrCodeTaken = errors.New("quiz code already in use")
	// ErrCodeExhausted indicates join-code generation ran out of retries.
	ErrCodeExhausted = errors.New("could not generate a unique quiz code")
	// ErrNotHost is returned when a non-host attempts a host-only transition.
	ErrNotHost = errors.New("not the session host")
	// ErrInvalidTransition is returned when a phase transition is requested
	// from the wrong predecessor state.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrAuthUnavailable indicates the anonymous identity could not be
	// established; flows requiring a principal must abort.
	ErrAuthUnavailable = errors.New("anonymous identity unavailable")
)
