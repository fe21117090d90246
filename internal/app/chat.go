package app

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quizroom-service/internal/domain"
)

// SendChat posts a human chat message to every subscriber of the room.
func (s *Service) SendChat(ctx context.Context, roomID, playerID, body string) (domain.Message, error) {
	room, err := s.store.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Message{}, err
	}
	if room.Status == domain.RoomInactive {
		return domain.Message{}, domain.ErrRoomInactive
	}
	player, err := s.Player(ctx, roomID, playerID)
	if err != nil {
		return domain.Message{}, err
	}
	if player.IsNPC() {
		return domain.Message{}, domain.ErrNotHuman
	}
	body = s.cleanBody(body)
	if body == "" {
		return domain.Message{}, domain.ErrEmptyMessage
	}
	if !s.limiter(roomID, playerID).Allow() {
		return domain.Message{}, domain.ErrRateLimited
	}
	if err := s.store.Rooms.Touch(ctx, roomID, s.clock.Now()); err != nil {
		s.logger.Warn("touch room failed", zap.String("room_id", roomID), zap.Error(err))
	}

	return s.publishMessage(roomID, domain.MessageChat, player.ID, displayName(player), body), nil
}

func (s *Service) cleanBody(body string) string {
	body = strings.TrimSpace(body)
	if max := s.cfg.ChatMaxLength; max > 0 && utf8.RuneCountInString(body) > max {
		body = string([]rune(body)[:max])
	}
	return body
}

func (s *Service) systemMessage(roomID, body string) domain.Message {
	return s.publishMessage(roomID, domain.MessageSystem, "", "", body)
}

// npcMessage routes a scripted line through the same channel as chat.
func (s *Service) npcMessage(roomID string, npc domain.Player, body string) domain.Message {
	return s.publishMessage(roomID, domain.MessageNPCResponse, npc.ID, displayName(npc), body)
}

func (s *Service) publishMessage(roomID string, kind domain.MessageKind, senderID, senderName, body string) domain.Message {
	msg := domain.Message{
		ID:         s.newID(),
		RoomID:     roomID,
		Kind:       kind,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
		SentAt:     s.clock.Now(),
	}
	ev := s.hub.Publish(domain.Event{Type: domain.EventMessage, RoomID: roomID, Message: &msg})
	return *ev.Message
}

func (s *Service) limiter(roomID, playerID string) *rate.Limiter {
	key := limiterKey(roomID, playerID)
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		limit, burst := s.cfg.ChatRate, s.cfg.ChatBurst
		if limit <= 0 {
			limit = rate.Inf
		}
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(limit, burst)
		s.limiters[key] = l
	}
	return l
}

func limiterKey(roomID, playerID string) string {
	return roomID + "|" + playerID
}
