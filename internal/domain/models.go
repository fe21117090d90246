package domain

import "time"

// RoomStatus is the lifecycle status of a room.
type RoomStatus string

const (
	RoomActive    RoomStatus = "active"
	RoomInactive  RoomStatus = "inactive"
	RoomCompleted RoomStatus = "completed"
)

// Room is an isolated multiplayer session identified by a shareable code.
type Room struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	QuizID       string     `json:"quizId"`
	Capacity     int        `json:"capacity"`
	Status       RoomStatus `json:"status"`
	HostID       string     `json:"hostId"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity time.Time  `json:"lastActivity"`
}

// PlayerKind tags a player as a human or a simulated participant.
type PlayerKind string

const (
	PlayerHuman PlayerKind = "human"
	PlayerNPC   PlayerKind = "npc"
)

// NPCProfile drives the scripted behavior of an NPC player.
type NPCProfile struct {
	Accuracy float64       `json:"accuracy"` // probability of picking the correct option, 0..1
	MinDelay time.Duration `json:"minDelay"`
	MaxDelay time.Duration `json:"maxDelay"`
	Chatty   bool          `json:"chatty"`
}

// Player is a room participant. NPC is only set for Kind == PlayerNPC.
type Player struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"roomId"`
	DisplayName string      `json:"displayName"`
	Emoji       string      `json:"emoji,omitempty"`
	Kind        PlayerKind  `json:"kind"`
	IsHost      bool        `json:"isHost"`
	Connected   bool        `json:"connected"`
	JoinedAt    time.Time   `json:"joinedAt"`
	NPC         *NPCProfile `json:"npc,omitempty"`
}

// IsNPC reports whether the player is simulated.
func (p Player) IsNPC() bool {
	return p.Kind == PlayerNPC
}

// Active reports whether the player counts toward "everyone answered".
func (p Player) Active() bool {
	return p.IsNPC() || p.Connected
}

// Phase is a stage of the room game-state machine.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhaseQuestion  Phase = "question"
	PhaseFeedback  Phase = "feedback"
	PhaseCompleted Phase = "completed"
)

// GameState is the server-authoritative per-room state. Version increments on every
// accepted transition and acts as the compare-and-swap token.
type GameState struct {
	RoomID             string     `json:"roomId"`
	Phase              Phase      `json:"phase"`
	QuestionIndex      int        `json:"questionIndex"`
	QuestionCount      int        `json:"questionCount"`
	CountdownStartedAt *time.Time `json:"countdownStartedAt,omitempty"`
	QuestionStartedAt  *time.Time `json:"questionStartedAt,omitempty"`
	FeedbackStartedAt  *time.Time `json:"feedbackStartedAt,omitempty"`
	AnsweredPlayers    []string   `json:"answeredPlayers"`
	Version            int64      `json:"version"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// HasAnswered reports whether playerID is in the answered set.
func (s GameState) HasAnswered(playerID string) bool {
	for _, id := range s.AnsweredPlayers {
		if id == playerID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or pointers with s.
func (s GameState) Clone() GameState {
	out := s
	out.AnsweredPlayers = append([]string(nil), s.AnsweredPlayers...)
	out.CountdownStartedAt = cloneTime(s.CountdownStartedAt)
	out.QuestionStartedAt = cloneTime(s.QuestionStartedAt)
	out.FeedbackStartedAt = cloneTime(s.FeedbackStartedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// QuestionResponse is an immutable record of one player's answer to one question.
type QuestionResponse struct {
	RoomID         string    `json:"roomId"`
	PlayerID       string    `json:"playerId"`
	QuestionID     string    `json:"questionId"`
	QuestionIndex  int       `json:"questionIndex"`
	Answer         string    `json:"answer"`
	IsCorrect      bool      `json:"isCorrect"`
	ResponseTimeMS int64     `json:"responseTimeMs"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// LeaderboardEntry is a derived ranking row; never persisted.
type LeaderboardEntry struct {
	PlayerID      string  `json:"playerId"`
	DisplayName   string  `json:"displayName"`
	Emoji         string  `json:"emoji,omitempty"`
	IsNPC         bool    `json:"isNpc"`
	Score         int     `json:"score"`
	Correct       int     `json:"correct"`
	Answered      int     `json:"answered"`
	Accuracy      float64 `json:"accuracy"`
	AvgResponseMS int64   `json:"avgResponseMs"`
	Rank          int     `json:"rank"`
}

// MessageKind classifies channel messages.
type MessageKind string

const (
	MessageChat        MessageKind = "chat"
	MessageSystem      MessageKind = "system"
	MessageNPCResponse MessageKind = "npc_response"
)

// Message is a chat or system notice delivered to a room.
type Message struct {
	ID         string      `json:"id"`
	Seq        uint64      `json:"seq"`
	RoomID     string      `json:"roomId"`
	Kind       MessageKind `json:"kind"`
	SenderID   string      `json:"senderId,omitempty"`
	SenderName string      `json:"senderName,omitempty"`
	Body       string      `json:"body"`
	SentAt     time.Time   `json:"sentAt"`
}

// Timing carries the durations clients need to derive countdowns from server anchors.
type Timing struct {
	Countdown       time.Duration `json:"countdown"`
	QuestionTimeout time.Duration `json:"questionTimeout"`
	Reveal          time.Duration `json:"reveal"`
}

// QuestionView is the client-safe projection of the current question.
type QuestionView struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Options []OptionView `json:"options"`
	Correct string       `json:"correct,omitempty"` // only revealed in feedback/completed
}

// OptionView hides the correctness flag.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Snapshot is the full server view of a room that clients reconcile against.
type Snapshot struct {
	Room       Room          `json:"room"`
	Players    []Player      `json:"players"`
	State      GameState     `json:"state"`
	Question   *QuestionView `json:"question,omitempty"`
	Timing     Timing        `json:"timing"`
	ServerTime time.Time     `json:"serverTime"`
}

// EventType discriminates realtime envelopes.
type EventType string

const (
	EventSnapshot    EventType = "snapshot"
	EventMessage     EventType = "message"
	EventLeaderboard EventType = "leaderboard"
)

// Event is the envelope pushed to room subscribers.
type Event struct {
	Type        EventType          `json:"type"`
	RoomID      string             `json:"roomId"`
	Snapshot    *Snapshot          `json:"snapshot,omitempty"`
	Message     *Message           `json:"message,omitempty"`
	Leaderboard []LeaderboardEntry `json:"leaderboard,omitempty"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// CorrectOption returns the ID of the first option flagged correct.
func (q Question) CorrectOption() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// View strips correctness unless reveal is set.
func (q Question) View(reveal bool) QuestionView {
	view := QuestionView{ID: q.ID, Prompt: q.Prompt, Options: make([]OptionView, 0, len(q.Options))}
	for _, opt := range q.Options {
		view.Options = append(view.Options, OptionView{ID: opt.ID, Text: opt.Text})
	}
	if reveal {
		view.Correct = q.CorrectOption()
	}
	return view
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}
