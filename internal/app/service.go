package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/game"
	"quizroom-service/internal/realtime"
)

// Config holds the tunables of the room engine.
type Config struct {
	Rules           game.Rules
	DefaultCapacity int
	MaxCapacity     int
	CodeLength      int
	CodeAttempts    int
	// ResyncInterval re-reads persisted state of every live room so changes made by
	// other instances reach local subscribers even if a push was missed.
	ResyncInterval time.Duration
	ChatRate       rate.Limit
	ChatBurst      int
	ChatMaxLength  int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Rules:           game.DefaultRules(),
		DefaultCapacity: 8,
		MaxCapacity:     50,
		CodeLength:      game.DefaultCodeLength,
		CodeAttempts:    10,
		ResyncInterval:  5 * time.Second,
		ChatRate:        rate.Limit(1),
		ChatBurst:       5,
		ChatMaxLength:   500,
	}
}

// Service implements the multiplayer quiz use cases. It is safe for concurrent use.
type Service struct {
	store  Store
	hub    *realtime.Hub
	clock  Clock
	logger *zap.Logger
	cfg    Config

	newCode  func() (string, error)
	newID    func() string
	strategy Strategy

	mu      sync.Mutex
	engines map[string]*roomEngine
	closed  bool

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	npcs *npcDriver
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithCodeGenerator replaces the random room code source.
func WithCodeGenerator(f func() string) Option {
	return func(s *Service) { s.newCode = func() (string, error) { return f(), nil } }
}

// WithIDGenerator replaces uuid-based ids.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithStrategy sets how NPC players pick answers.
func WithStrategy(st Strategy) Option {
	return func(s *Service) { s.strategy = st }
}

func NewService(store Store, hub *realtime.Hub, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CodeAttempts <= 0 {
		cfg.CodeAttempts = 10
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = 8
	}
	if cfg.MaxCapacity < cfg.DefaultCapacity {
		cfg.MaxCapacity = cfg.DefaultCapacity
	}
	s := &Service{
		store:    store,
		hub:      hub,
		clock:    SystemClock(),
		logger:   logger,
		cfg:      cfg,
		newID:    func() string { return uuid.NewString() },
		engines:  make(map[string]*roomEngine),
		limiters: make(map[string]*rate.Limiter),
	}
	s.newCode = func() (string, error) { return game.GenerateCode(s.cfg.CodeLength) }
	for _, opt := range opts {
		opt(s)
	}
	if s.strategy == nil {
		s.strategy = NewRandomStrategy(time.Now().UnixNano())
	}
	s.npcs = newNPCDriver(s)
	return s
}

// Rules exposes the phase rules for clients that need the timing.
func (s *Service) Rules() game.Rules {
	return s.cfg.Rules
}

// Run drives the periodic resync until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.ResyncInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.cfg.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Resync(ctx)
		}
	}
}

// Resync reconciles every live engine with persisted state.
func (s *Service) Resync(ctx context.Context) {
	for _, e := range s.liveEngines() {
		if err := e.tick(ctx); err != nil {
			s.logger.Warn("resync failed", zap.String("room_id", e.roomID), zap.Error(err))
		}
	}
}

// Close stops every room timer and NPC. Subsequent engine lookups fail.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	engines := s.engines
	s.engines = make(map[string]*roomEngine)
	s.mu.Unlock()

	for _, e := range engines {
		e.close()
	}
	s.npcs.stopAll()
}

// Snapshot returns the authoritative view of a room.
func (s *Service) Snapshot(ctx context.Context, roomID string) (domain.Snapshot, error) {
	room, err := s.store.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	state, err := s.store.States.GetState(ctx, roomID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return s.buildSnapshot(ctx, room, state)
}

func (s *Service) buildSnapshot(ctx context.Context, room domain.Room, state domain.GameState) (domain.Snapshot, error) {
	players, err := s.store.Rooms.ListPlayers(ctx, room.ID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{
		Room:       room,
		Players:    players,
		State:      state,
		Timing:     s.cfg.Rules.Timing,
		ServerTime: s.clock.Now(),
	}
	if state.Phase == domain.PhaseQuestion || state.Phase == domain.PhaseFeedback {
		quiz, err := s.store.Quizzes.GetQuiz(ctx, room.QuizID)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if q, ok := game.QuestionAt(quiz, state.QuestionIndex); ok {
			view := q.View(state.Phase == domain.PhaseFeedback)
			snap.Question = &view
		}
	}
	return snap, nil
}

// Leaderboard recomputes the ranking of a room from its recorded responses.
func (s *Service) Leaderboard(ctx context.Context, roomID string) ([]domain.LeaderboardEntry, error) {
	players, err := s.store.Rooms.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.Responses.ListResponses(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return game.Leaderboard(players, responses, s.cfg.Rules.PointsPerCorrect), nil
}

// Subscribe streams room events. Buffered messages newer than since are replayed,
// then the current snapshot is pushed. The caller must invoke the cancel func.
func (s *Service) Subscribe(ctx context.Context, roomID string, since uint64) (<-chan domain.Event, func(), error) {
	snap, err := s.Snapshot(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.engine(ctx, roomID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.Subscribe(roomID, since, domain.Event{Type: domain.EventSnapshot, RoomID: roomID, Snapshot: &snap})
	return ch, cancel, nil
}

// engine returns the in-process engine of a room, creating it on first use.
func (s *Service) engine(ctx context.Context, roomID string) (*roomEngine, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrRoomInactive
	}
	if e, ok := s.engines[roomID]; ok {
		s.mu.Unlock()
		return e, nil
	}
	s.mu.Unlock()

	room, err := s.store.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == domain.RoomInactive {
		return nil, domain.ErrRoomInactive
	}
	quiz, err := s.store.Quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if e, ok := s.engines[roomID]; ok {
		s.mu.Unlock()
		return e, nil
	}
	e := newRoomEngine(s, room.ID, quiz)
	s.engines[roomID] = e
	s.mu.Unlock()

	if err := e.tick(ctx); err != nil {
		if errors.Is(err, domain.ErrRoomInactive) {
			s.dropEngine(roomID)
			return nil, err
		}
		s.logger.Warn("initial room sync failed", zap.String("room_id", roomID), zap.Error(err))
	}
	return e, nil
}

func (s *Service) dropEngine(roomID string) {
	s.mu.Lock()
	e, ok := s.engines[roomID]
	delete(s.engines, roomID)
	s.mu.Unlock()
	if ok {
		e.close()
	}
	s.npcs.stopRoom(roomID)
}

func (s *Service) liveEngines() []*roomEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*roomEngine, 0, len(s.engines))
	for _, e := range s.engines {
		out = append(out, e)
	}
	return out
}

func (s *Service) publishSnapshot(ctx context.Context, roomID string, state domain.GameState) {
	room, err := s.store.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		s.logger.Warn("snapshot room lookup failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	snap, err := s.buildSnapshot(ctx, room, state)
	if err != nil {
		s.logger.Warn("snapshot build failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	s.hub.Publish(domain.Event{Type: domain.EventSnapshot, RoomID: roomID, Snapshot: &snap})
}

func (s *Service) publishLeaderboard(ctx context.Context, roomID string) {
	board, err := s.Leaderboard(ctx, roomID)
	if err != nil {
		s.logger.Warn("leaderboard failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	s.hub.Publish(domain.Event{Type: domain.EventLeaderboard, RoomID: roomID, Leaderboard: board})
}
