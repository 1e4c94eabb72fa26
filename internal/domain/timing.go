package domain

import "time"

// RemainingSeconds computes the seconds left on the current question from
// the server-stamped question start. Anchoring to the store timestamp
// rather than a locally started countdown keeps every client's clock in
// agreement, including clients that join or resume mid-question.
func RemainingSeconds(timeLimit int, questionStartedAt *time.Time, now time.Time) int {
	if questionStartedAt == nil {
		return timeLimit
	}
	elapsed := int(now.Sub(*questionStartedAt) / time.Second)
	remaining := timeLimit - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AwardPoints computes the score for a submission. Incorrect or absent
// answers earn nothing; correct answers earn half the question's points
// as a base plus the other half scaled by how much time was left, so the
// award is monotonic non-increasing in elapsed time.
func AwardPoints(questionPoints, timeLimit, timeRemaining int, correct bool) int {
	if !correct || questionPoints <= 0 {
		return 0
	}
	if timeLimit <= 0 {
		return questionPoints
	}
	if timeRemaining < 0 {
		timeRemaining = 0
	}
	if timeRemaining > timeLimit {
		timeRemaining = timeLimit
	}
	base := questionPoints / 2
	bonus := (questionPoints - base) * timeRemaining / timeLimit
	return base + bonus
}
