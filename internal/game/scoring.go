package game

import (
	"sort"

	"quizroom-service/internal/domain"
)

// Grade checks an answer against the quiz answer key.
func Grade(quiz domain.Quiz, questionID, answer string) (bool, error) {
	question, _, ok := FindQuestion(quiz, questionID)
	if !ok {
		return false, domain.ErrQuestionNotFound
	}
	for _, opt := range question.Options {
		if opt.ID == answer {
			return opt.Correct, nil
		}
	}
	return false, domain.ErrOptionNotFound
}

// FindQuestion looks a question up by id and returns its position.
func FindQuestion(quiz domain.Quiz, questionID string) (domain.Question, int, bool) {
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == questionID {
			return quiz.Questions[i], i, true
		}
	}
	return domain.Question{}, -1, false
}

// QuestionAt returns the question for a zero-based index.
func QuestionAt(quiz domain.Quiz, index int) (domain.Question, bool) {
	if index < 0 || index >= len(quiz.Questions) {
		return domain.Question{}, false
	}
	return quiz.Questions[index], true
}

type tally struct {
	entry   domain.LeaderboardEntry
	totalMS int64
}

// Leaderboard projects responses into a ranked table. Every roster player appears, as
// does any player with recorded responses who has since left. Ordering is
// score desc, accuracy desc, average response time asc; players without answers
// sort after those with answers, and the player id settles remaining ties.
func Leaderboard(players []domain.Player, responses []domain.QuestionResponse, pointsPerCorrect int) []domain.LeaderboardEntry {
	if pointsPerCorrect <= 0 {
		pointsPerCorrect = 100
	}
	byID := make(map[string]*tally, len(players))
	for _, p := range players {
		byID[p.ID] = &tally{entry: domain.LeaderboardEntry{
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			Emoji:       p.Emoji,
			IsNPC:       p.IsNPC(),
		}}
	}
	for _, r := range responses {
		t, ok := byID[r.PlayerID]
		if !ok {
			t = &tally{entry: domain.LeaderboardEntry{PlayerID: r.PlayerID}}
			byID[r.PlayerID] = t
		}
		t.entry.Answered++
		t.totalMS += r.ResponseTimeMS
		if r.IsCorrect {
			t.entry.Correct++
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(byID))
	for _, t := range byID {
		e := t.entry
		e.Score = e.Correct * pointsPerCorrect
		if e.Answered > 0 {
			e.Accuracy = float64(e.Correct) * 100 / float64(e.Answered)
			e.AvgResponseMS = t.totalMS / int64(e.Answered)
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Accuracy != b.Accuracy {
			return a.Accuracy > b.Accuracy
		}
		if (a.Answered > 0) != (b.Answered > 0) {
			return a.Answered > 0
		}
		if a.AvgResponseMS != b.AvgResponseMS {
			return a.AvgResponseMS < b.AvgResponseMS
		}
		return a.PlayerID < b.PlayerID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
