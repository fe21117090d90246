// Package reconcile keeps a client's view of a room consistent with the server.
// Server snapshots are immutable and always win; the only client-owned data is an
// optimistic answer overlay that lives until the server confirms or moves on.
package reconcile

import (
	"time"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/game"
)

// Status reports how fresh the local view is.
type Status string

const (
	StatusEmpty        Status = "empty"
	StatusSynced       Status = "synced"
	StatusReconnecting Status = "reconnecting"
)

// Overlay is an answer the player submitted but the server has not yet acknowledged.
type Overlay struct {
	QuestionID    string    `json:"questionId"`
	QuestionIndex int       `json:"questionIndex"`
	Answer        string    `json:"answer"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Local is the merged client view. The zero value (plus PlayerID) is a valid
// starting point.
type Local struct {
	PlayerID string
	Snapshot *domain.Snapshot
	Overlay  *Overlay
	Status   Status
	Failures int
	// Skew is server time minus local time at the moment the snapshot arrived.
	Skew time.Duration
}

// Reduce merges an incoming snapshot into the local view. Snapshots older than the
// one already held (lower version for the same room) are ignored.
func Reduce(local Local, incoming domain.Snapshot, receivedAt time.Time) Local {
	if cur := local.Snapshot; cur != nil && cur.Room.ID == incoming.Room.ID && incoming.State.Version < cur.State.Version {
		return local
	}
	snap := incoming
	snap.State = incoming.State.Clone()
	local.Snapshot = &snap
	local.Status = StatusSynced
	local.Failures = 0
	if !incoming.ServerTime.IsZero() && !receivedAt.IsZero() {
		local.Skew = incoming.ServerTime.Sub(receivedAt)
	}

	if ov := local.Overlay; ov != nil {
		switch {
		case snap.State.Phase != domain.PhaseQuestion || snap.State.QuestionIndex != ov.QuestionIndex:
			local.Overlay = nil
		case snap.State.HasAnswered(local.PlayerID):
			local.Overlay = nil
		}
	}
	return local
}

// Submit records an optimistic answer. It fails with domain.ErrPhaseMismatch when
// the local view is not in the question phase for questionID and with
// domain.ErrDuplicateSubmission when an answer is already pending or confirmed.
func Submit(local Local, questionID, answer string, now time.Time) (Local, error) {
	snap := local.Snapshot
	if snap == nil || snap.State.Phase != domain.PhaseQuestion || snap.Question == nil || snap.Question.ID != questionID {
		return local, domain.ErrPhaseMismatch
	}
	if local.Overlay != nil || snap.State.HasAnswered(local.PlayerID) {
		return local, domain.ErrDuplicateSubmission
	}
	local.Overlay = &Overlay{
		QuestionID:    questionID,
		QuestionIndex: snap.State.QuestionIndex,
		Answer:        answer,
		SubmittedAt:   now,
	}
	return local, nil
}

// Failed records a sync failure. Local data is kept; after maxFailures consecutive
// failures the view is flagged as reconnecting.
func Failed(local Local, maxFailures int) Local {
	local.Failures++
	if maxFailures > 0 && local.Failures >= maxFailures {
		local.Status = StatusReconnecting
	}
	return local
}

// View is what a client renders.
type View struct {
	Phase         domain.Phase
	QuestionIndex int
	Question      *domain.QuestionView
	Answered      bool
	PendingAnswer string
	Remaining     time.Duration
	Status        Status
}

// Derive projects the local view at local time now.
func Derive(local Local, now time.Time) View {
	status := local.Status
	if status == "" {
		status = StatusEmpty
	}
	v := View{Status: status}
	snap := local.Snapshot
	if snap == nil {
		return v
	}
	v.Phase = snap.State.Phase
	v.QuestionIndex = snap.State.QuestionIndex
	v.Question = snap.Question
	v.Answered = snap.State.HasAnswered(local.PlayerID)
	if local.Overlay != nil {
		v.Answered = true
		v.PendingAnswer = local.Overlay.Answer
	}
	v.Remaining = Remaining(*snap, now.Add(local.Skew))
	return v
}

// Remaining recomputes the time left in the current phase from the server anchors.
func Remaining(snap domain.Snapshot, now time.Time) time.Duration {
	return game.Remaining(snap.State, snap.Timing, now)
}
