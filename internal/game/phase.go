// Package game holds the pure rules of a quiz room: phase transitions, grading,
// scoring and room codes. Nothing here performs I/O or reads the wall clock.
package game

import (
	"time"

	"quizroom-service/internal/domain"
)

// Rules configures the phase machine of a room.
type Rules struct {
	Timing domain.Timing
	// InterQuestionCountdown runs a countdown before every question, not just the first.
	InterQuestionCountdown bool
	// MinPlayers starts the game automatically once the roster reaches it; 0 disables.
	MinPlayers       int
	PointsPerCorrect int
}

// DefaultRules returns the production timing.
func DefaultRules() Rules {
	return Rules{
		Timing: domain.Timing{
			Countdown:       5 * time.Second,
			QuestionTimeout: 20 * time.Second,
			Reveal:          4 * time.Second,
		},
		InterQuestionCountdown: true,
		PointsPerCorrect:       100,
	}
}

// NewState returns the initial waiting state of a room.
func NewState(roomID string, questionCount int, now time.Time) domain.GameState {
	return domain.GameState{
		RoomID:          roomID,
		Phase:           domain.PhaseWaiting,
		QuestionCount:   questionCount,
		AnsweredPlayers: []string{},
		Version:         1,
		UpdatedAt:       now,
	}
}

// Start moves a waiting room into countdown, recording the countdown anchor once.
func Start(s domain.GameState, now time.Time) (domain.GameState, error) {
	if s.Phase != domain.PhaseWaiting {
		return s, domain.ErrInvalidTransition
	}
	if s.QuestionCount == 0 {
		return s, domain.ErrQuestionNotFound
	}
	next := s.Clone()
	next.Phase = domain.PhaseCountdown
	next.CountdownStartedAt = &now
	next.AnsweredPlayers = []string{}
	return bump(next, now), nil
}

// ShouldAutoStart reports whether the roster size satisfies the minimum-player rule.
func ShouldAutoStart(s domain.GameState, rules Rules, rosterSize int) bool {
	return s.Phase == domain.PhaseWaiting && rules.MinPlayers > 0 && rosterSize >= rules.MinPlayers
}

// RecordAnswer adds playerID to the answered set of the current question.
func RecordAnswer(s domain.GameState, playerID string, now time.Time) domain.GameState {
	if s.HasAnswered(playerID) {
		return s
	}
	next := s.Clone()
	next.AnsweredPlayers = append(next.AnsweredPlayers, playerID)
	return bump(next, now)
}

// AllAnswered reports whether every active player answered the current question.
// An empty active set never counts as complete; the timeout covers it.
func AllAnswered(s domain.GameState, active []string) bool {
	if len(active) == 0 {
		return false
	}
	for _, id := range active {
		if !s.HasAnswered(id) {
			return false
		}
	}
	return true
}

// Step applies at most one time- or answer-driven transition. It returns the new state
// and true when a transition happened.
func Step(s domain.GameState, now time.Time, rules Rules, active []string) (domain.GameState, bool) {
	t := rules.Timing
	switch s.Phase {
	case domain.PhaseCountdown:
		if s.CountdownStartedAt == nil {
			return s, false
		}
		anchor := s.CountdownStartedAt.Add(t.Countdown)
		if now.Before(anchor) {
			return s, false
		}
		next := s.Clone()
		next.Phase = domain.PhaseQuestion
		next.QuestionStartedAt = &anchor
		next.FeedbackStartedAt = nil
		next.AnsweredPlayers = []string{}
		return bump(next, now), true

	case domain.PhaseQuestion:
		if s.QuestionStartedAt == nil {
			return s, false
		}
		deadline := s.QuestionStartedAt.Add(t.QuestionTimeout)
		var anchor time.Time
		switch {
		case AllAnswered(s, active):
			anchor = now
			if anchor.After(deadline) {
				anchor = deadline
			}
		case !now.Before(deadline):
			anchor = deadline
		default:
			return s, false
		}
		next := s.Clone()
		next.Phase = domain.PhaseFeedback
		next.FeedbackStartedAt = &anchor
		return bump(next, now), true

	case domain.PhaseFeedback:
		if s.FeedbackStartedAt == nil {
			return s, false
		}
		anchor := s.FeedbackStartedAt.Add(t.Reveal)
		if now.Before(anchor) {
			return s, false
		}
		return bump(nextQuestion(s, anchor, rules), now), true
	}
	return s, false
}

// StepFrom applies Step only when the state still matches the expected phase and
// question index. Replaying an advance whose source no longer matches is a no-op.
func StepFrom(s domain.GameState, from domain.Phase, index int, now time.Time, rules Rules, active []string) (domain.GameState, bool) {
	if s.Phase != from || s.QuestionIndex != index {
		return s, false
	}
	return Step(s, now, rules, active)
}

// CatchUp applies Step repeatedly until the state is stable at now.
func CatchUp(s domain.GameState, now time.Time, rules Rules, active []string) (domain.GameState, bool) {
	changed := false
	for {
		next, ok := Step(s, now, rules, active)
		if !ok {
			return s, changed
		}
		s, changed = next, true
	}
}

func nextQuestion(s domain.GameState, anchor time.Time, rules Rules) domain.GameState {
	next := s.Clone()
	next.AnsweredPlayers = []string{}
	next.FeedbackStartedAt = nil
	next.QuestionStartedAt = nil
	if s.QuestionIndex+1 >= s.QuestionCount {
		next.Phase = domain.PhaseCompleted
		next.QuestionIndex = s.QuestionCount
		return next
	}
	next.QuestionIndex = s.QuestionIndex + 1
	if rules.InterQuestionCountdown {
		next.Phase = domain.PhaseCountdown
		next.CountdownStartedAt = &anchor
		return next
	}
	next.Phase = domain.PhaseQuestion
	next.QuestionStartedAt = &anchor
	return next
}

// Deadline returns when the current phase ends on its own, if it has a timer.
func Deadline(s domain.GameState, rules Rules) (time.Time, bool) {
	t := rules.Timing
	switch s.Phase {
	case domain.PhaseCountdown:
		if s.CountdownStartedAt != nil {
			return s.CountdownStartedAt.Add(t.Countdown), true
		}
	case domain.PhaseQuestion:
		if s.QuestionStartedAt != nil {
			return s.QuestionStartedAt.Add(t.QuestionTimeout), true
		}
	case domain.PhaseFeedback:
		if s.FeedbackStartedAt != nil {
			return s.FeedbackStartedAt.Add(t.Reveal), true
		}
	}
	return time.Time{}, false
}

// Remaining is the time left in the current phase as seen at now, never negative.
// Every observer of the same anchors computes the same value.
func Remaining(s domain.GameState, timing domain.Timing, now time.Time) time.Duration {
	deadline, ok := Deadline(s, Rules{Timing: timing})
	if !ok {
		return 0
	}
	if left := deadline.Sub(now); left > 0 {
		return left
	}
	return 0
}

// Terminal reports whether no further transitions are accepted.
func Terminal(s domain.GameState) bool {
	return s.Phase == domain.PhaseCompleted
}

func bump(s domain.GameState, now time.Time) domain.GameState {
	s.Version++
	s.UpdatedAt = now
	return s
}
