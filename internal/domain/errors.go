package domain

import "errors"

var (
	// ErrRoomNotFound is returned when no active room matches a code or id.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomInactive is returned when joining or acting on a room that is no longer active.
	ErrRoomInactive = errors.New("room is not active")
	// ErrRoomFull is returned when the roster already holds capacity players.
	ErrRoomFull = errors.New("room is full")
	// ErrCodeTaken indicates an active room already uses the code.
	ErrCodeTaken = errors.New("room code already in use")
	// ErrCodeSpaceExhausted is returned when no free room code could be allocated.
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")
	// ErrPlayerNotFound is returned when a player is not on the room roster.
	ErrPlayerNotFound = errors.New("player not found in room")
	// ErrNotHuman is returned when a simulated player is driven through a human input path.
	ErrNotHuman = errors.New("player is not human")
	// ErrNotHost is returned when a host-only action is attempted by another player.
	ErrNotHost = errors.New("only the host can do that")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted answer is not one of the question's options.
	ErrOptionNotFound = errors.New("option not found")
	// ErrDuplicateSubmission is returned for a second answer to the same question.
	ErrDuplicateSubmission = errors.New("answer already submitted")
	// ErrPhaseMismatch is returned for answers outside the question phase or for a stale question.
	ErrPhaseMismatch = errors.New("answer does not match the current phase")
	// ErrInvalidTransition is returned when a phase change is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrStateConflict is returned by repositories when a compare-and-swap loses.
	ErrStateConflict = errors.New("game state changed concurrently")
	// ErrRateLimited is returned when a player sends chat faster than allowed.
	ErrRateLimited = errors.New("too many messages")
	// ErrEmptyMessage is returned for blank chat bodies.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotFound is returned by stores for missing keys.
	ErrNotFound = errors.New("not found")
)
