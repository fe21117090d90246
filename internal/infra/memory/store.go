package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// Store is an in-memory implementation of the room, state and response
// repositories. A single mutex makes capacity checks and CAS atomic.
type Store struct {
	mu        sync.RWMutex
	rooms     map[string]*domain.Room
	codes     map[string]string // active code -> room id
	players   map[string][]domain.Player
	states    map[string]domain.GameState
	responses map[string][]domain.QuestionResponse
}

func NewStore() *Store {
	return &Store{
		rooms:     make(map[string]*domain.Room),
		codes:     make(map[string]string),
		players:   make(map[string][]domain.Player),
		states:    make(map[string]domain.GameState),
		responses: make(map[string][]domain.QuestionResponse),
	}
}

// Repositories bundles the store with a quiz source for app.NewService.
func (s *Store) Repositories(quizzes app.QuizRepository) app.Store {
	return app.Store{Rooms: s, States: s, Responses: s, Quizzes: quizzes}
}

func (s *Store) CreateRoom(_ context.Context, room domain.Room, host domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[room.Code]; taken {
		return domain.ErrCodeTaken
	}
	r := room
	s.rooms[room.ID] = &r
	s.codes[room.Code] = room.ID
	host.RoomID = room.ID
	host.IsHost = true
	s.players[room.ID] = []domain.Player{host}
	return nil
}

func (s *Store) GetRoom(_ context.Context, roomID string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return *room, nil
}

func (s *Store) FindActiveByCode(_ context.Context, code string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return *s.rooms[id], nil
}

func (s *Store) AddPlayer(_ context.Context, roomID string, player domain.Player, at time.Time) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.Player{}, domain.ErrRoomNotFound
	}
	if room.Status != domain.RoomActive {
		return domain.Player{}, domain.ErrRoomInactive
	}
	roster := s.players[roomID]
	for i := range roster {
		if roster[i].ID == player.ID {
			roster[i].Connected = true
			if player.DisplayName != "" {
				roster[i].DisplayName = player.DisplayName
			}
			room.LastActivity = at
			return roster[i], nil
		}
	}
	if len(roster) >= room.Capacity {
		return domain.Player{}, domain.ErrRoomFull
	}
	player.RoomID = roomID
	player.IsHost = player.ID == room.HostID
	s.players[roomID] = append(roster, player)
	room.LastActivity = at
	return player, nil
}

func (s *Store) RemovePlayer(_ context.Context, roomID, playerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	roster := s.players[roomID]
	for i := range roster {
		if roster[i].ID == playerID {
			s.players[roomID] = append(roster[:i:i], roster[i+1:]...)
			room.LastActivity = at
			return nil
		}
	}
	return domain.ErrPlayerNotFound
}

func (s *Store) ListPlayers(_ context.Context, roomID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, domain.ErrRoomNotFound
	}
	out := make([]domain.Player, len(s.players[roomID]))
	copy(out, s.players[roomID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) SetConnected(_ context.Context, roomID, playerID string, connected bool, at time.Time) error {
	return s.updatePlayer(roomID, playerID, at, func(p *domain.Player) { p.Connected = connected })
}

func (s *Store) SetHost(_ context.Context, roomID, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	found := false
	for i := range s.players[roomID] {
		p := &s.players[roomID][i]
		p.IsHost = p.ID == playerID
		found = found || p.IsHost
	}
	if !found {
		return domain.ErrPlayerNotFound
	}
	room.HostID = playerID
	return nil
}

func (s *Store) SetStatus(_ context.Context, roomID string, status domain.RoomStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	s.setStatusLocked(room, status, at)
	return nil
}

func (s *Store) setStatusLocked(room *domain.Room, status domain.RoomStatus, at time.Time) {
	room.Status = status
	room.LastActivity = at
	if status != domain.RoomActive && s.codes[room.Code] == room.ID {
		delete(s.codes, room.Code)
	}
}

func (s *Store) Touch(_ context.Context, roomID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if at.After(room.LastActivity) {
		room.LastActivity = at
	}
	return nil
}

func (s *Store) MarkInactive(_ context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept []string
	for id, room := range s.rooms {
		if room.Status == domain.RoomActive && room.LastActivity.Before(before) {
			s.setStatusLocked(room, domain.RoomInactive, room.LastActivity)
			swept = append(swept, id)
		}
	}
	sort.Strings(swept)
	return swept, nil
}

func (s *Store) updatePlayer(roomID, playerID string, at time.Time, fn func(*domain.Player)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	for i := range s.players[roomID] {
		if s.players[roomID][i].ID == playerID {
			fn(&s.players[roomID][i])
			room.LastActivity = at
			return nil
		}
	}
	return domain.ErrPlayerNotFound
}

func (s *Store) InitState(_ context.Context, state domain.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RoomID] = state.Clone()
	return nil
}

func (s *Store) GetState(_ context.Context, roomID string) (domain.GameState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[roomID]
	if !ok {
		return domain.GameState{}, domain.ErrRoomNotFound
	}
	return state.Clone(), nil
}

func (s *Store) CompareAndSwap(_ context.Context, expectedVersion int64, next domain.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[next.RoomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if cur.Version != expectedVersion {
		return domain.ErrStateConflict
	}
	s.states[next.RoomID] = next.Clone()
	return nil
}

func (s *Store) InsertResponse(_ context.Context, resp domain.QuestionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.responses[resp.RoomID] {
		if existing.PlayerID == resp.PlayerID && existing.QuestionID == resp.QuestionID {
			return domain.ErrDuplicateSubmission
		}
	}
	s.responses[resp.RoomID] = append(s.responses[resp.RoomID], resp)
	return nil
}

func (s *Store) GetResponse(_ context.Context, roomID, playerID, questionID string) (domain.QuestionResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.responses[roomID] {
		if r.PlayerID == playerID && r.QuestionID == questionID {
			return r, nil
		}
	}
	return domain.QuestionResponse{}, domain.ErrNotFound
}

func (s *Store) ListResponses(_ context.Context, roomID string) ([]domain.QuestionResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QuestionResponse, len(s.responses[roomID]))
	copy(out, s.responses[roomID])
	return out, nil
}
