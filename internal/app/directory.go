package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/game"
)

// PlayerInfo is what a client supplies about itself when creating or joining a room.
// ID is the opaque identity from the auth collaborator.
type PlayerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Emoji       string `json:"emoji,omitempty"`
}

// CreateRoomRequest describes a new room.
type CreateRoomRequest struct {
	Host     PlayerInfo
	Capacity int
	QuizID   string
}

// CreateRoom allocates a unique code among active rooms and seats the host.
func (s *Service) CreateRoom(ctx context.Context, req CreateRoomRequest) (domain.Room, error) {
	if req.Host.ID == "" {
		return domain.Room{}, domain.ErrPlayerNotFound
	}
	quiz, err := s.store.Quizzes.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return domain.Room{}, err
	}

	now := s.clock.Now()
	room := domain.Room{
		ID:           s.newID(),
		QuizID:       quiz.ID,
		Capacity:     s.capacity(req.Capacity),
		Status:       domain.RoomActive,
		HostID:       req.Host.ID,
		CreatedAt:    now,
		LastActivity: now,
	}
	host := domain.Player{
		ID:          req.Host.ID,
		RoomID:      room.ID,
		DisplayName: req.Host.DisplayName,
		Emoji:       req.Host.Emoji,
		Kind:        domain.PlayerHuman,
		IsHost:      true,
		Connected:   true,
		JoinedAt:    now,
	}

	for attempt := 0; attempt < s.cfg.CodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return domain.Room{}, err
		}
		room.Code = game.NormalizeCode(code)
		if _, err := s.store.Rooms.FindActiveByCode(ctx, room.Code); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrRoomNotFound) {
			return domain.Room{}, err
		}
		err = s.store.Rooms.CreateRoom(ctx, room, host)
		if errors.Is(err, domain.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return domain.Room{}, fmt.Errorf("create room: %w", err)
		}
		if err := s.store.States.InitState(ctx, game.NewState(room.ID, len(quiz.Questions), now)); err != nil {
			return domain.Room{}, fmt.Errorf("init game state: %w", err)
		}
		s.logger.Info("room created",
			zap.String("room_id", room.ID),
			zap.String("code", room.Code),
			zap.Int("capacity", room.Capacity),
			zap.String("host_id", host.ID))
		return room, nil
	}
	return domain.Room{}, domain.ErrCodeSpaceExhausted
}

func (s *Service) capacity(requested int) int {
	switch {
	case requested <= 0:
		return s.cfg.DefaultCapacity
	case requested > s.cfg.MaxCapacity:
		return s.cfg.MaxCapacity
	default:
		return requested
	}
}

// ResolveRoom finds an active room by join code (case-insensitive) or internal id.
func (s *Service) ResolveRoom(ctx context.Context, codeOrID string) (domain.Room, error) {
	room, err := s.store.Rooms.GetRoom(ctx, codeOrID)
	if err == nil {
		if room.Status != domain.RoomActive {
			return domain.Room{}, domain.ErrRoomNotFound
		}
		return room, nil
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return domain.Room{}, err
	}
	return s.store.Rooms.FindActiveByCode(ctx, game.NormalizeCode(codeOrID))
}

// JoinRoom seats a human player. Rejoining marks the player connected again.
func (s *Service) JoinRoom(ctx context.Context, codeOrID string, info PlayerInfo) (domain.Room, domain.Player, error) {
	if info.ID == "" {
		return domain.Room{}, domain.Player{}, domain.ErrPlayerNotFound
	}
	room, err := s.lookupForJoin(ctx, codeOrID)
	if err != nil {
		return domain.Room{}, domain.Player{}, err
	}
	now := s.clock.Now()
	player, err := s.store.Rooms.AddPlayer(ctx, room.ID, domain.Player{
		ID:          info.ID,
		RoomID:      room.ID,
		DisplayName: info.DisplayName,
		Emoji:       info.Emoji,
		Kind:        domain.PlayerHuman,
		Connected:   true,
		JoinedAt:    now,
	}, now)
	if err != nil {
		return domain.Room{}, domain.Player{}, err
	}
	s.logger.Info("player joined", zap.String("room_id", room.ID), zap.String("player_id", player.ID))
	s.afterRosterChange(ctx, room.ID, fmt.Sprintf("%s joined the room", displayName(player)))
	return room, player, nil
}

// lookupForJoin distinguishes unknown codes from rooms that exist but are closed.
func (s *Service) lookupForJoin(ctx context.Context, codeOrID string) (domain.Room, error) {
	room, err := s.ResolveRoom(ctx, codeOrID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return domain.Room{}, err
	}
	if r, gerr := s.store.Rooms.GetRoom(ctx, codeOrID); gerr == nil && r.Status != domain.RoomActive {
		return domain.Room{}, domain.ErrRoomInactive
	}
	return domain.Room{}, err
}

// AddNPC seats a simulated player. Only the host may add NPCs.
func (s *Service) AddNPC(ctx context.Context, roomID, hostID, name string, profile domain.NPCProfile) (domain.Player, error) {
	room, err := s.store.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Player{}, err
	}
	if room.Status != domain.RoomActive {
		return domain.Player{}, domain.ErrRoomInactive
	}
	if room.HostID != hostID {
		return domain.Player{}, domain.ErrNotHost
	}
	if profile.MaxDelay < profile.MinDelay {
		profile.MaxDelay = profile.MinDelay
	}
	now := s.clock.Now()
	npc, err := s.store.Rooms.AddPlayer(ctx, roomID, domain.Player{
		ID:          "npc-" + s.newID(),
		RoomID:      roomID,
		DisplayName: name,
		Emoji:       "🤖",
		Kind:        domain.PlayerNPC,
		Connected:   true,
		JoinedAt:    now,
		NPC:         &profile,
	}, now)
	if err != nil {
		return domain.Player{}, err
	}
	s.afterRosterChange(ctx, roomID, fmt.Sprintf("%s joined the room", displayName(npc)))
	return npc, nil
}

// LeaveRoom removes a player and hands the host role on if needed.
func (s *Service) LeaveRoom(ctx context.Context, roomID, playerID string) error {
	room, err := s.store.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	player, err := s.Player(ctx, roomID, playerID)
	if err != nil {
		return err
	}
	if err := s.store.Rooms.RemovePlayer(ctx, roomID, playerID, s.clock.Now()); err != nil {
		return err
	}
	s.limiterMu.Lock()
	delete(s.limiters, limiterKey(roomID, playerID))
	s.limiterMu.Unlock()

	s.logger.Info("player left", zap.String("room_id", roomID), zap.String("player_id", playerID))

	humans, err := s.humans(ctx, roomID)
	if err != nil {
		return err
	}
	if len(humans) == 0 {
		// Nobody left to host; NPCs do not keep a room alive.
		if err := s.store.Rooms.SetStatus(ctx, roomID, domain.RoomInactive, s.clock.Now()); err != nil {
			return err
		}
		s.dropEngine(roomID)
		s.hub.CloseRoom(roomID)
		return nil
	}
	if room.HostID == playerID {
		if err := s.promoteHost(ctx, roomID, humans); err != nil {
			s.logger.Warn("host promotion failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
	s.afterRosterChange(ctx, roomID, fmt.Sprintf("%s left the room", displayName(player)))
	return nil
}

func (s *Service) humans(ctx context.Context, roomID string) ([]domain.Player, error) {
	players, err := s.store.Rooms.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	humans := make([]domain.Player, 0, len(players))
	for _, p := range players {
		if !p.IsNPC() {
			humans = append(humans, p)
		}
	}
	return humans, nil
}

// promoteHost makes the earliest-joined remaining human the host.
func (s *Service) promoteHost(ctx context.Context, roomID string, humans []domain.Player) error {
	sort.SliceStable(humans, func(i, j int) bool { return humans[i].JoinedAt.Before(humans[j].JoinedAt) })
	next := humans[0]
	if err := s.store.Rooms.SetHost(ctx, roomID, next.ID); err != nil {
		return err
	}
	s.systemMessage(roomID, fmt.Sprintf("%s is now the host", displayName(next)))
	return nil
}

// SetConnected records presence changes reported by the realtime transport.
func (s *Service) SetConnected(ctx context.Context, roomID, playerID string, connected bool) error {
	player, err := s.Player(ctx, roomID, playerID)
	if err != nil {
		return err
	}
	if player.Connected == connected {
		return nil
	}
	if err := s.store.Rooms.SetConnected(ctx, roomID, playerID, connected, s.clock.Now()); err != nil {
		return err
	}
	verb := "disconnected"
	if connected {
		verb = "reconnected"
	}
	s.afterRosterChange(ctx, roomID, fmt.Sprintf("%s %s", displayName(player), verb))
	return nil
}

// Player returns one roster entry.
func (s *Service) Player(ctx context.Context, roomID, playerID string) (domain.Player, error) {
	players, err := s.store.Rooms.ListPlayers(ctx, roomID)
	if err != nil {
		return domain.Player{}, err
	}
	for _, p := range players {
		if p.ID == playerID {
			return p, nil
		}
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

// StartGame moves the room from waiting to countdown on the host's request.
func (s *Service) StartGame(ctx context.Context, roomID, playerID string) (domain.GameState, error) {
	e, err := s.engine(ctx, roomID)
	if err != nil {
		return domain.GameState{}, err
	}
	state, err := e.start(ctx, playerID)
	if err != nil {
		return state, err
	}
	if err := s.store.Rooms.Touch(ctx, roomID, s.clock.Now()); err != nil {
		s.logger.Warn("touch room failed", zap.String("room_id", roomID), zap.Error(err))
	}
	return state, nil
}

// SweepStaleRooms marks rooms idle for longer than threshold as inactive and tears
// down their local engines. Running it again immediately returns 0.
func (s *Service) SweepStaleRooms(ctx context.Context, threshold time.Duration) (int, error) {
	ids, err := s.store.Rooms.MarkInactive(ctx, s.clock.Now().Add(-threshold))
	if err != nil {
		return 0, fmt.Errorf("sweep stale rooms: %w", err)
	}
	for _, id := range ids {
		s.dropEngine(id)
		s.hub.CloseRoom(id)
	}
	if len(ids) > 0 {
		s.logger.Info("swept stale rooms", zap.Int("count", len(ids)), zap.Duration("threshold", threshold))
	}
	return len(ids), nil
}

// afterRosterChange notifies the room and re-evaluates phase rules that depend on
// the roster (auto start, everyone answered).
func (s *Service) afterRosterChange(ctx context.Context, roomID, notice string) {
	s.systemMessage(roomID, notice)
	e, err := s.engine(ctx, roomID)
	if err != nil {
		return
	}
	if err := e.maybeAutoStart(ctx); err != nil {
		s.logger.Warn("auto start failed", zap.String("room_id", roomID), zap.Error(err))
	}
	if err := e.tick(ctx); err != nil {
		s.logger.Warn("roster tick failed", zap.String("room_id", roomID), zap.Error(err))
	}
	state, err := s.store.States.GetState(ctx, roomID)
	if err == nil {
		s.publishSnapshot(ctx, roomID, state)
	}
}

func displayName(p domain.Player) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}
