package app

import (
	"context"
	"time"

	"quizroom-service/internal/domain"
)

// RoomRepository persists rooms and their rosters.
type RoomRepository interface {
	// CreateRoom stores a new active room with its host as first player.
	// Returns domain.ErrCodeTaken if an active room already uses the code.
	CreateRoom(ctx context.Context, room domain.Room, host domain.Player) error
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	// FindActiveByCode matches normalized codes of active rooms only.
	FindActiveByCode(ctx context.Context, code string) (domain.Room, error)
	// AddPlayer atomically checks status and capacity before inserting. A player already
	// on the roster is marked connected instead.
	AddPlayer(ctx context.Context, roomID string, player domain.Player, at time.Time) (domain.Player, error)
	RemovePlayer(ctx context.Context, roomID, playerID string, at time.Time) error
	ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error)
	SetConnected(ctx context.Context, roomID, playerID string, connected bool, at time.Time) error
	SetHost(ctx context.Context, roomID, playerID string) error
	SetStatus(ctx context.Context, roomID string, status domain.RoomStatus, at time.Time) error
	Touch(ctx context.Context, roomID string, at time.Time) error
	// MarkInactive flips active rooms idle since before to inactive and returns their ids.
	MarkInactive(ctx context.Context, before time.Time) ([]string, error)
}

// StateRepository stores the authoritative game state of each room.
type StateRepository interface {
	InitState(ctx context.Context, state domain.GameState) error
	GetState(ctx context.Context, roomID string) (domain.GameState, error)
	// CompareAndSwap writes next only if the stored version equals expectedVersion.
	// It returns domain.ErrStateConflict otherwise.
	CompareAndSwap(ctx context.Context, expectedVersion int64, next domain.GameState) error
}

// ResponseRepository stores immutable question responses.
type ResponseRepository interface {
	// InsertResponse returns domain.ErrDuplicateSubmission when the (room, player,
	// question) triple already exists; the stored row is left untouched.
	InsertResponse(ctx context.Context, resp domain.QuestionResponse) error
	GetResponse(ctx context.Context, roomID, playerID, questionID string) (domain.QuestionResponse, error)
	ListResponses(ctx context.Context, roomID string) ([]domain.QuestionResponse, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Store bundles the persistence collaborators a Service needs.
type Store struct {
	Rooms     RoomRepository
	States    StateRepository
	Responses ResponseRepository
	Quizzes   QuizRepository
}
