package domain

// Streaks are a derived view over the PlayerAnswer ledger, recomputed
// whenever the scoreboard is shown for a new question index. They are
// never stored.

type answerKey struct {
	playerID   string
	questionID string
}

// latestAnswers collapses duplicate ledger rows for the same
// (player, question) pair, keeping the most recently timestamped record.
func latestAnswers(ledger []PlayerAnswer) map[answerKey]PlayerAnswer {
	latest := make(map[answerKey]PlayerAnswer, len(ledger))
	for _, record := range ledger {
		key := answerKey{playerID: record.PlayerID, questionID: record.QuestionID}
		existing, ok := latest[key]
		if !ok || !record.AnsweredAt.Before(existing.AnsweredAt) {
			latest[key] = record
		}
	}
	return latest
}

// ComputeStreaks returns, per player, the count of consecutive correct
// answers ending at the last question in questionIDs, scanning backward
// until the first incorrect or missing answer. A player with no answers
// has streak 0.
func ComputeStreaks(playerIDs []string, questionIDs []string, ledger []PlayerAnswer) map[string]int {
	latest := latestAnswers(ledger)
	streaks := make(map[string]int, len(playerIDs))

	for _, playerID := range playerIDs {
		streak := 0
		for i := len(questionIDs) - 1; i >= 0; i-- {
			record, ok := latest[answerKey{playerID: playerID, questionID: questionIDs[i]}]
			if !ok || !record.Correct {
				break
			}
			streak++
		}
		streaks[playerID] = streak
	}
	return streaks
}
