package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"quizroom-service/internal/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domain.ErrRoomNotFound, http.StatusNotFound, "room_not_found"},
	{domain.ErrPlayerNotFound, http.StatusNotFound, "player_not_found"},
	{domain.ErrQuizNotFound, http.StatusNotFound, "quiz_not_found"},
	{domain.ErrQuestionNotFound, http.StatusNotFound, "question_not_found"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrRoomInactive, http.StatusConflict, "room_inactive"},
	{domain.ErrRoomFull, http.StatusConflict, "room_full"},
	{domain.ErrPhaseMismatch, http.StatusConflict, "phase_mismatch"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrDuplicateSubmission, http.StatusConflict, "duplicate_submission"},
	{domain.ErrStateConflict, http.StatusConflict, "state_conflict"},
	{domain.ErrCodeTaken, http.StatusConflict, "code_taken"},
	{domain.ErrNotHost, http.StatusForbidden, "not_host"},
	{domain.ErrNotHuman, http.StatusForbidden, "not_human"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrEmptyMessage, http.StatusBadRequest, "empty_message"},
	{domain.ErrOptionNotFound, http.StatusBadRequest, "option_not_found"},
	{domain.ErrCodeSpaceExhausted, http.StatusServiceUnavailable, "code_space_exhausted"},
}

// classify maps a service error to an HTTP status and a stable code for clients.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}

func decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
