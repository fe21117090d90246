package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// WSHandler streams room events to a seated player and accepts answers and chat.
type WSHandler struct {
	service  *app.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.Service, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID     string `json:"questionId"`
	Answer         string `json:"answer"`
	ResponseTimeMS int64  `json:"responseTimeMs"`
}

type chatPayload struct {
	Body string `json:"body"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage {
	_, code := classify(err)
	return outboundMessage{Type: "error", Payload: errorPayload{Error: code, Message: err.Error()}}
}

func eventMessage(ev domain.Event) outboundMessage {
	switch ev.Type {
	case domain.EventSnapshot:
		return outboundMessage{Type: string(ev.Type), Payload: ev.Snapshot}
	case domain.EventMessage:
		return outboundMessage{Type: string(ev.Type), Payload: ev.Message}
	default:
		return outboundMessage{Type: string(ev.Type), Payload: ev.Leaderboard}
	}
}

// ServeWS upgrades /ws?roomId=&playerId=&since= and pipes room events to the socket.
// The player must already be seated through the REST join.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		playerID = r.Header.Get(PlayerHeader)
	}
	if roomID == "" || playerID == "" {
		badRequest(w, "missing roomId or playerId")
		return
	}
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(w, "invalid since")
			return
		}
		since = v
	}

	ctx := r.Context()
	player, err := h.service.Player(ctx, roomID, playerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if player.IsNPC() {
		writeError(w, domain.ErrNotHuman)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	log := h.logger.With(zap.String("room_id", roomID), zap.String("player_id", playerID))

	if err := h.service.SetConnected(ctx, roomID, playerID, true); err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer func() {
		if err := h.service.SetConnected(context.WithoutCancel(ctx), roomID, playerID, false); err != nil && !errors.Is(err, domain.ErrPlayerNotFound) {
			log.Warn("mark disconnected failed", zap.Error(err))
		}
	}()

	events, cancel, err := h.service.Subscribe(ctx, roomID, since)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	send := make(chan outboundMessage, 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("ws write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					// dropped by the hub; the client resubscribes with its last seq
					_ = conn.Close()
					return
				}
				select {
				case send <- eventMessage(ev):
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msg outboundMessage) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				reply(outboundMessage{Type: "error", Payload: errorPayload{Error: "bad_request", Message: "invalid answer payload"}})
				continue
			}
			res, err := h.service.SubmitAnswer(ctx, app.Submission{
				RoomID:       roomID,
				PlayerID:     playerID,
				QuestionID:   payload.QuestionID,
				Answer:       payload.Answer,
				ResponseTime: time.Duration(payload.ResponseTimeMS) * time.Millisecond,
			})
			if err != nil && !errors.Is(err, domain.ErrDuplicateSubmission) {
				reply(errorMessage(err))
				continue
			}
			reply(outboundMessage{Type: "answerResult", Payload: res})
		case "chat":
			var payload chatPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				reply(outboundMessage{Type: "error", Payload: errorPayload{Error: "bad_request", Message: "invalid chat payload"}})
				continue
			}
			if _, err := h.service.SendChat(ctx, roomID, playerID, payload.Body); err != nil {
				reply(errorMessage(err))
			}
		case "ping":
			reply(outboundMessage{Type: "pong"})
		default:
			reply(outboundMessage{Type: "error", Payload: errorPayload{Error: "bad_request", Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
