package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// PlayerHeader carries the opaque player identity issued by the auth collaborator.
const PlayerHeader = "X-Player-ID"

// RoomHandler exposes the room use cases over REST.
type RoomHandler struct {
	service        *app.Service
	logger         *zap.Logger
	sweepThreshold time.Duration
}

type createRoomRequest struct {
	Host     app.PlayerInfo `json:"host"`
	Capacity int            `json:"capacity"`
	QuizID   string         `json:"quizId"`
}

type joinResponse struct {
	Room   domain.Room   `json:"room"`
	Player domain.Player `json:"player"`
}

type playerRequest struct {
	PlayerID string `json:"playerId"`
}

type npcRequest struct {
	PlayerID   string  `json:"playerId"`
	Name       string  `json:"name"`
	Accuracy   float64 `json:"accuracy"`
	MinDelayMS int64   `json:"minDelayMs"`
	MaxDelayMS int64   `json:"maxDelayMs"`
	Chatty     bool    `json:"chatty"`
}

type answerRequest struct {
	PlayerID       string `json:"playerId"`
	QuestionID     string `json:"questionId"`
	Answer         string `json:"answer"`
	ResponseTimeMS int64  `json:"responseTimeMs"`
}

type chatRequest struct {
	PlayerID string `json:"playerId"`
	Body     string `json:"body"`
}

type sweepResponse struct {
	Swept int `json:"swept"`
}

// playerID prefers the header and falls back to the body field.
func playerID(r *http.Request, fromBody string) string {
	if id := strings.TrimSpace(r.Header.Get(PlayerHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(fromBody)
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	req.Host.ID = playerID(r, req.Host.ID)
	if req.Host.ID == "" || req.QuizID == "" {
		badRequest(w, "host id and quizId are required")
		return
	}
	room, err := h.service.CreateRoom(r.Context(), app.CreateRoomRequest{
		Host:     req.Host,
		Capacity: req.Capacity,
		QuizID:   req.QuizID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.service.ResolveRoom(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	var info app.PlayerInfo
	if err := decode(r, &info); err != nil {
		badRequest(w, "invalid body")
		return
	}
	info.ID = playerID(r, info.ID)
	if info.ID == "" {
		badRequest(w, "player id is required")
		return
	}
	room, player, err := h.service.JoinRoom(r.Context(), chi.URLParam(r, "roomId"), info)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{Room: room, Player: player})
}

func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if err := h.service.LeaveRoom(r.Context(), chi.URLParam(r, "roomId"), playerID(r, req.PlayerID)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) AddNPC(w http.ResponseWriter, r *http.Request) {
	var req npcRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if req.Accuracy < 0 || req.Accuracy > 1 {
		badRequest(w, "accuracy must be within [0,1]")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Bot"
	}
	npc, err := h.service.AddNPC(r.Context(), chi.URLParam(r, "roomId"), playerID(r, req.PlayerID), name, domain.NPCProfile{
		Accuracy: req.Accuracy,
		MinDelay: time.Duration(req.MinDelayMS) * time.Millisecond,
		MaxDelay: time.Duration(req.MaxDelayMS) * time.Millisecond,
		Chatty:   req.Chatty,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, npc)
}

func (h *RoomHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	state, err := h.service.StartGame(r.Context(), chi.URLParam(r, "roomId"), playerID(r, req.PlayerID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Answer records a submission. A repeat is not an error for the client: it gets the
// standing answer back with recorded=false.
func (h *RoomHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if req.QuestionID == "" || req.Answer == "" {
		badRequest(w, "questionId and answer are required")
		return
	}
	res, err := h.service.SubmitAnswer(r.Context(), app.Submission{
		RoomID:       chi.URLParam(r, "roomId"),
		PlayerID:     playerID(r, req.PlayerID),
		QuestionID:   req.QuestionID,
		Answer:       req.Answer,
		ResponseTime: time.Duration(req.ResponseTimeMS) * time.Millisecond,
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateSubmission) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *RoomHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	msg, err := h.service.SendChat(r.Context(), chi.URLParam(r, "roomId"), playerID(r, req.PlayerID), req.Body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *RoomHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *RoomHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.Leaderboard(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// Sweep lets an external scheduler reclaim stale rooms. ?threshold=30m overrides the default.
func (h *RoomHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	threshold := h.sweepThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			badRequest(w, "invalid threshold")
			return
		}
		threshold = d
	}
	if threshold <= 0 {
		badRequest(w, "threshold is required")
		return
	}
	n, err := h.service.SweepStaleRooms(r.Context(), threshold)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Swept: n})
}

func (h *RoomHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := classify(err); status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, err)
}
